// ws_smoke joins two peers to a classroom through a running relay, performs a
// full WebRTC offer/answer/candidate exchange and waits for a data channel to
// open between them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/meetrelay/internal/client"
	"github.com/vovakirdan/meetrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/meet", "meeting WebSocket address")
	classroom := flag.Int64("classroom", 1, "classroom id")
	ice := flag.String("ice", "", "comma separated STUN urls; empty uses host candidates only")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var iceServers []webrtc.ICEServer
	if *ice != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: strings.Split(*ice, ",")})
	}

	host, err := newPeer(ctx, *addr, *classroom, 1001, iceServers)
	if err != nil {
		return err
	}
	defer host.close()
	guest, err := newPeer(ctx, *addr, *classroom, 1002, iceServers)
	if err != nil {
		return err
	}
	defer guest.close()

	if ids, err := host.client.Join(ctx); err != nil {
		return err
	} else {
		fmt.Printf("host joined, existing participants: %v\n", ids)
	}
	ids, err := guest.client.Join(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("guest joined, existing participants: %v\n", ids)
	if len(ids) == 0 {
		return errors.New("guest did not see the host")
	}

	// Newcomers initiate, the same as the browser client.
	guest.remote = ids[0]
	host.remote = guest.client.UserID()
	if err := guest.offer(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.serve(gctx) })
	g.Go(func() error { return guest.serve(gctx) })
	g.Go(func() error {
		for _, p := range []*peer{host, guest} {
			select {
			case <-p.opened:
			case <-gctx.Done():
				return fmt.Errorf("%s: data channel did not open: %w", p.name, gctx.Err())
			}
		}
		fmt.Println("data channel open on both peers")
		if err := guest.client.RaiseHand(gctx, true); err != nil {
			return err
		}
		return errDone
	})

	if err := g.Wait(); !errors.Is(err, errDone) {
		return err
	}
	fmt.Println("smoke test passed")
	return nil
}

var errDone = errors.New("done")

type peer struct {
	name    string
	client  *client.Client
	pc      *webrtc.PeerConnection
	remote  int64
	pending []webrtc.ICECandidateInit
	opened  chan struct{}
}

func newPeer(ctx context.Context, addr string, classroomID, userID int64, iceServers []webrtc.ICEServer) (*peer, error) {
	c, err := client.Dial(ctx, addr, classroomID, userID)
	if err != nil {
		return nil, err
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	p := &peer{
		name:   fmt.Sprintf("user %d", userID),
		client: c,
		pc:     pc,
		opened: make(chan struct{}),
	}
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || p.remote == 0 {
			return
		}
		if err := c.Signal(ctx, proto.TypeICECandidate, p.remote, candidate.ToJSON()); err != nil {
			log.Printf("%s: send candidate: %v", p.name, err)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(p.markOpen)
	})
	return p, nil
}

func (p *peer) markOpen() {
	select {
	case <-p.opened:
	default:
		close(p.opened)
	}
}

func (p *peer) offer(ctx context.Context) error {
	dc, err := p.pc.CreateDataChannel("smoke", nil)
	if err != nil {
		return fmt.Errorf("data channel: %w", err)
	}
	dc.OnOpen(p.markOpen)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return p.client.Signal(ctx, proto.TypeOffer, p.remote, p.pc.LocalDescription())
}

func (p *peer) serve(ctx context.Context) error {
	for {
		env, err := p.client.Receive(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		fmt.Printf("%s <- %s from %d\n", p.name, env.Type, env.FromUserID)

		switch env.Type {
		case proto.TypeOffer:
			if err := p.answer(ctx, env.Payload); err != nil {
				return err
			}
		case proto.TypeAnswer:
			var desc webrtc.SessionDescription
			if err := json.Unmarshal(env.Payload, &desc); err != nil {
				return fmt.Errorf("%s: decode answer: %w", p.name, err)
			}
			if err := p.pc.SetRemoteDescription(desc); err != nil {
				return fmt.Errorf("%s: set remote answer: %w", p.name, err)
			}
			if err := p.flushCandidates(); err != nil {
				return err
			}
		case proto.TypeICECandidate:
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(env.Payload, &candidate); err != nil {
				return fmt.Errorf("%s: decode candidate: %w", p.name, err)
			}
			if p.pc.RemoteDescription() == nil {
				p.pending = append(p.pending, candidate)
				continue
			}
			if err := p.pc.AddICECandidate(candidate); err != nil {
				return fmt.Errorf("%s: add candidate: %w", p.name, err)
			}
		}
	}
}

func (p *peer) answer(ctx context.Context, payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%s: decode offer: %w", p.name, err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%s: set remote offer: %w", p.name, err)
	}
	if err := p.flushCandidates(); err != nil {
		return err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%s: create answer: %w", p.name, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%s: set local answer: %w", p.name, err)
	}
	return p.client.Signal(ctx, proto.TypeAnswer, p.remote, p.pc.LocalDescription())
}

func (p *peer) flushCandidates() error {
	for _, candidate := range p.pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("%s: add candidate: %w", p.name, err)
		}
	}
	p.pending = nil
	return nil
}

func (p *peer) close() {
	_ = p.pc.Close()
	_ = p.client.Close()
}
