package tcp

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gridexchange/comm"
)

type accepted struct {
	conn *Conn
	peer *comm.Hello
	err  error
}

func connectPair(ctx context.Context, coarseRole, fineRole string) (accepted, accepted) {
	ln, err := Listen("127.0.0.1:0", DefaultConfig())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(ln.Close)

	ch := make(chan accepted, 1)
	go func() {
		c, p, err := ln.Accept(ctx, comm.Hello{Role: coarseRole})
		ch <- accepted{c, p, err}
	}()

	c, p, err := Dial(ctx, ln.Addr().String(), comm.Hello{Role: fineRole}, DefaultConfig())

	return <-ch, accepted{c, p, err}
}

var _ = Describe("Conn", func() {
	var ctx context.Context

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)
	})

	It("should handshake and exchange protocol messages", func() {
		server, client := connectPair(ctx, "coarse", "fine")
		Expect(server.err).NotTo(HaveOccurred())
		Expect(client.err).NotTo(HaveOccurred())
		DeferCleanup(server.conn.Close)
		DeferCleanup(client.conn.Close)

		Expect(server.peer.Role).To(Equal("fine"))
		Expect(client.peer.Role).To(Equal("coarse"))

		fine := comm.Peer{Transport: client.conn, Local: 1, Remote: 0}
		coarse := comm.Peer{Transport: server.conn, Local: 0, Remote: 1}

		Expect(fine.Ready(1, nil)).To(Succeed())

		go func() {
			defer GinkgoRecover()
			_, err := coarse.WaitReady(ctx)
			Expect(err).NotTo(HaveOccurred())
			req, err := coarse.RecvTimestepReq(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(coarse.ReplyTimestep(ctx, req, 1.0, 1.0)).To(Succeed())
		}()

		rsp, err := fine.ExchangeTimestep(ctx, 0.15)

		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.Budget).To(Equal(1.0))
	})

	It("should refuse two peers with the same role", func() {
		server, client := connectPair(ctx, "fine", "fine")

		Expect(server.err).To(MatchError(ErrHandshake))
		Expect(client.err).To(HaveOccurred())
	})

	It("should report a closed connection", func() {
		server, client := connectPair(ctx, "coarse", "fine")
		Expect(server.err).NotTo(HaveOccurred())
		Expect(client.err).NotTo(HaveOccurred())

		Expect(client.conn.Send(ctx, &comm.ByeMsg{})).To(Succeed())
		Expect(client.conn.Close()).To(Succeed())

		msg, err := server.conn.Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Kind()).To(Equal(comm.KindBye))

		_, err = server.conn.Recv(ctx)
		Expect(err).To(MatchError(comm.ErrClosed))

		Expect(client.conn.Notify(&comm.ByeMsg{})).To(MatchError(comm.ErrClosed))
		Expect(server.conn.Close()).To(Succeed())
	})
})

var _ = Describe("Backoff", func() {
	It("should grow and cap the delay", func() {
		cfg := BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     300 * time.Millisecond,
		}

		Expect(nextBackoffDelay(cfg, 1)).To(Equal(100 * time.Millisecond))
		Expect(nextBackoffDelay(cfg, 2)).To(Equal(200 * time.Millisecond))
		Expect(nextBackoffDelay(cfg, 5)).To(Equal(300 * time.Millisecond))
	})
})
