package client

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/link"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/onion"
	"github.com/pqtor/tor-pq/primitives"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGuard accepts one connection, terminates one CREATE2, and replies
// CREATED2, returning the installed relay-side layer for use by the
// caller's assertions.
func fakeGuard(t *testing.T, ln net.Listener, variant ntor.Variant, identity [20]byte, done chan<- *onion.Layer) {
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		done <- nil
		return
	}
	l := link.Wrap(conn)
	defer l.Close()

	incoming, err := l.Reader.ReadCell()
	if err != nil {
		t.Errorf("read CREATE2: %v", err)
		done <- nil
		return
	}
	_, onionskin, err := cell.ParseCreate2Cell(incoming)
	if err != nil {
		t.Errorf("parse CREATE2: %v", err)
		done <- nil
		return
	}

	reply, km, err := ntor.ServerRespond(variant, identity, onionskin, ntor.ClassicServerKey{})
	if err != nil {
		t.Errorf("server respond: %v", err)
		done <- nil
		return
	}
	defer km.Close()

	if err := l.Writer.WriteCell(cell.NewCreated2Cell(incoming.CircID(), reply)); err != nil {
		t.Errorf("write CREATED2: %v", err)
		done <- nil
		return
	}

	var kEnc [80]byte
	copy(kEnc[0:32], km.Kf[:])
	copy(kEnc[32:64], km.Kb[:])
	copy(kEnc[64:72], km.IVf[:])
	copy(kEnc[72:80], km.IVb[:])
	layer, err := onion.NewLayer(kEnc)
	if err != nil {
		t.Errorf("build relay layer: %v", err)
		done <- nil
		return
	}
	done <- layer
}

func TestCreateSingleHopPQ(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	identity := [20]byte{0xAA, 0xBB}
	layerCh := make(chan *onion.Layer, 1)
	go fakeGuard(t, ln, ntor.VariantPQ, identity, layerCh)

	l, err := link.Dial(ln.Addr().String(), testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer l.Close()

	guard := descriptor.NodeInfo{Hostname: "guard", Identity: identity}
	c, err := Create(l, ntor.VariantPQ, guard, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.numHops != 1 {
		t.Fatalf("numHops = %d, want 1", c.numHops)
	}

	if relayLayer := <-layerCh; relayLayer == nil {
		t.Fatal("fake guard failed")
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	identity := [20]byte{0x01}
	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		l := link.Wrap(conn)
		defer l.Close()

		incoming, err := l.Reader.ReadCell()
		if err != nil {
			serverDone <- err
			return
		}
		_, onionskin, err := cell.ParseCreate2Cell(incoming)
		if err != nil {
			serverDone <- err
			return
		}
		priv, pub, err := primitives.GenerateX25519KeyPair()
		if err != nil {
			serverDone <- err
			return
		}
		reply, km, err := ntor.ServerRespond(ntor.VariantClassic, identity, onionskin, ntor.ClassicServerKey{Priv: priv, Pub: pub})
		if err != nil {
			serverDone <- err
			return
		}
		if err := l.Writer.WriteCell(cell.NewCreated2Cell(incoming.CircID(), reply)); err != nil {
			serverDone <- err
			return
		}

		var kEnc [80]byte
		copy(kEnc[0:32], km.Kf[:])
		copy(kEnc[32:64], km.Kb[:])
		copy(kEnc[64:72], km.IVf[:])
		copy(kEnc[72:80], km.IVb[:])
		km.Close()
		relayLayer, err := onion.NewLayer(kEnc)
		if err != nil {
			serverDone <- err
			return
		}
		rl := onion.NewRelayLayer(relayLayer)

		// Receive one RELAY cell from the client, peel it, and echo the
		// data back wrapped with the backward layer.
		req, err := l.Reader.ReadCell()
		if err != nil {
			serverDone <- err
			return
		}
		peeled, recognized := rl.Peel(append([]byte(nil), req.Payload()...))
		if !recognized {
			serverDone <- fmt.Errorf("relay cell not recognized")
			return
		}
		sub, err := cell.UnpackRelaySubcell(peeled)
		if err != nil {
			serverDone <- err
			return
		}

		echo := &cell.RelaySubcell{RelayCommand: cell.RelayCmdData, StreamID: sub.StreamID, Data: sub.Data}
		back := rl.AddBack(echo.Pack())
		if err := l.Writer.WriteCell(cell.NewRelayCell(req.CircID(), back)); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	l, err := link.Dial(ln.Addr().String(), testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer l.Close()

	guard := descriptor.NodeInfo{Hostname: "guard", Identity: identity}
	c, err := Create(l, ntor.VariantClassic, guard, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := c.SendRelay(cell.RelayCmdData, 7, []byte("hello")); err != nil {
		t.Fatalf("SendRelay: %v", err)
	}

	relayCmd, streamID, data, err := c.ReceiveRelay()
	if err != nil {
		t.Fatalf("ReceiveRelay: %v", err)
	}
	if relayCmd != cell.RelayCmdData || streamID != 7 {
		t.Fatalf("unexpected echo: cmd=%d stream=%d", relayCmd, streamID)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("data = %q, want %q", data, "hello")
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
