//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock_test

import (
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xtaci/keymutexd/internal/keylock"
)

func socketPath() string {
	return filepath.Join(os.TempDir(), "keymutexd-test.sock")
}

func startCore(cfg keylock.Config) (*keylock.Core, func()) {
	core, err := keylock.New(cfg, keylock.NopSink{})
	Expect(err).NotTo(HaveOccurred())
	go func() { _ = core.Run() }()
	return core, func() {
		core.Stop()
		core.Close()
	}
}

func dialKey(path string, key byte) net.Conn {
	conn, err := net.Dial("unix", path)
	Expect(err).NotTo(HaveOccurred())
	buf := make([]byte, keylock.KeySize)
	for i := range buf {
		buf[i] = key
	}
	_, err = conn.Write(buf)
	Expect(err).NotTo(HaveOccurred())
	return conn
}

func readByte(conn net.Conn) byte {
	var b [1]byte
	_, err := conn.Read(b[:])
	Expect(err).NotTo(HaveOccurred())
	return b[0]
}

var _ = Describe("end-to-end over a Unix listener", func() {
	var path string

	BeforeEach(func() {
		path = socketPath()
		os.Remove(path)
	})

	AfterEach(func() {
		os.Remove(path)
	})

	It("grants ownership on first acquisition (round trip)", func() {
		_, stop := startCore(keylock.Config{Endpoint: path, MaxConnections: 4})
		defer stop()

		c := dialKey(path, 0x11)
		defer c.Close()
		Expect(readByte(c)).To(Equal(byte('O')))
	})

	It("queues a second acquirer and notifies it on release", func() {
		_, stop := startCore(keylock.Config{Endpoint: path, MaxConnections: 4})
		defer stop()

		owner := dialKey(path, 0x22)
		defer owner.Close()
		Expect(readByte(owner)).To(Equal(byte('O')))

		waiter := dialKey(path, 0x22)
		defer waiter.Close()

		_, err := owner.Write([]byte{'R'})
		Expect(err).NotTo(HaveOccurred())

		Expect(readByte(waiter)).To(Equal(byte('R')))
	})

	It("releases a waiter when its owner disconnects without sending R", func() {
		_, stop := startCore(keylock.Config{Endpoint: path, MaxConnections: 4})
		defer stop()

		owner := dialKey(path, 0x33)
		Expect(readByte(owner)).To(Equal(byte('O')))

		waiter := dialKey(path, 0x33)
		defer waiter.Close()

		Expect(owner.Close()).To(Succeed())

		Expect(readByte(waiter)).To(Equal(byte('R')))
	})

	It("enforces the capacity ceiling until a slot frees", func() {
		_, stop := startCore(keylock.Config{Endpoint: path, MaxConnections: 2})
		defer stop()

		c1 := dialKey(path, 0x44)
		defer c1.Close()
		Expect(readByte(c1)).To(Equal(byte('O')))

		c2 := dialKey(path, 0x55)
		defer c2.Close()
		Expect(readByte(c2)).To(Equal(byte('O')))

		third, err := net.Dial("unix", path)
		Expect(err).NotTo(HaveOccurred())
		defer third.Close()
		buf := make([]byte, keylock.KeySize)
		for i := range buf {
			buf[i] = 0x66
		}
		_, err = third.Write(buf)
		Expect(err).NotTo(HaveOccurred())

		third.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var b [1]byte
		_, err = third.Read(b[:])
		Expect(err).To(HaveOccurred(), "third connection must not be served while table is full")

		Expect(c1.Close()).To(Succeed())

		third.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, err = third.Read(b[:])
		Expect(err).NotTo(HaveOccurred())
		Expect(b[0]).To(Equal(byte('O')))
	})
})
