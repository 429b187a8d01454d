//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestKeylock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "keylock end-to-end scenarios")
}
