package main

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"flag"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/netsyncconfig"
	"github.com/cppla-netsync/netsync/netsynclog"
	"github.com/cppla-netsync/netsync/peer"
	"github.com/cppla-netsync/netsync/session"
	"github.com/cppla-netsync/netsync/transport/quicdgram"
)

// playerInput is the host-defined, fixed-size input payload. A real game
// packs buttons/axes into a struct like this one; session core only needs
// it to be comparable and bit-copyable.
type playerInput struct {
	Buttons uint16
	AxisX   int8
	AxisY   int8
}

type playerInputCodec struct{}

func (playerInputCodec) Width() int { return 4 }

func (playerInputCodec) Encode(v playerInput) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], v.Buttons)
	buf[2] = byte(v.AxisX)
	buf[3] = byte(v.AxisY)
	return buf
}

func (playerInputCodec) Decode(b []byte) playerInput {
	return playerInput{
		Buttons: binary.BigEndian.Uint16(b[0:2]),
		AxisX:   int8(b[2]),
		AxisY:   int8(b[3]),
	}
}

func main() {
	confPath := flag.String("config", "", "path to session config JSON")
	dial := flag.String("dial", "", "remote peer URL to dial, e.g. https://peer.example:4433/netsync")
	flag.Parse()

	cfg, err := netsyncconfig.Load(*confPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := netsynclog.New(cfg.Log)
	defer logger.Sync()
	logger.Info("netsync starting")

	host := newDemoHost(cfg.MaxPlayers, logger)
	codec := playerInputCodec{}
	s, err := session.New[playerInput](host, codec, cfg, logger)
	if err != nil {
		logger.Error("failed to construct session", zap.Error(err))
		os.Exit(1)
	}

	localHandle, code := s.AddPlayer(input.Local, 0, nil, nil)
	if code != session.Ok {
		logger.Error("failed to add local player", zap.Stringer("result", code))
		os.Exit(1)
	}

	if *dial != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), quicdgram.DialTimeout)
		tr, derr := quicdgram.Dial(dialCtx, *dial, &tls.Config{})
		cancel()
		if derr != nil {
			logger.Error("dial failed", zap.Error(derr))
			os.Exit(1)
		}
		if _, code := s.AddPlayer(input.Remote, 1, tr, tr.LocalAddress()); code != session.Ok {
			logger.Error("failed to add remote player", zap.Stringer("result", code))
			os.Exit(1)
		}
		s.Start(tr)
		defer s.Stop(2 * time.Second)
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.FramesPerSecond))
	defer ticker.Stop()

	for range ticker.C {
		if err := s.BeginFrame(); err != nil {
			logger.Error("begin_frame failed", zap.Error(err))
			return
		}
		if code := s.AddLocalInput(localHandle, playerInput{}); code != session.Ok && code != session.NotSynchronized {
			logger.Warn("add_local_input rejected", zap.Stringer("result", code))
		}
		inputs, code := s.SynchronizeInputs()
		if code != session.Ok {
			continue
		}
		if err := s.AdvanceFrame(inputs); err != nil {
			logger.Error("advance_frame failed", zap.Error(err))
			return
		}
	}
}

// demoHost is a minimal session.Host implementation exercising
// save/load/advance_frame with a CRC32 checksum, standing in for an
// embedding game's actual simulation state. A real host's SaveState
// serializes its own world state rather than this placeholder tick count.
type demoHost struct {
	logger *zap.Logger
	pos    []int32
	tick   int64
}

func newDemoHost(maxPlayers int, logger *zap.Logger) *demoHost {
	return &demoHost{logger: logger, pos: make([]int32, maxPlayers)}
}

func (h *demoHost) SaveState(f frame.Frame) ([]byte, uint32, error) {
	buf := make([]byte, 8+4*len(h.pos))
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.tick))
	for i, p := range h.pos {
		binary.BigEndian.PutUint32(buf[8+4*i:12+4*i], uint32(p))
	}
	return buf, crc32.ChecksumIEEE(buf), nil
}

func (h *demoHost) LoadState(f frame.Frame, data []byte) error {
	if len(data) < 8+4*len(h.pos) {
		return fmt.Errorf("demoHost: short snapshot for frame %d", f)
	}
	h.tick = int64(binary.BigEndian.Uint64(data[0:8]))
	for i := range h.pos {
		h.pos[i] = int32(binary.BigEndian.Uint32(data[8+4*i : 12+4*i]))
	}
	return nil
}

func (h *demoHost) AdvanceFrame(inputs []input.GameInput[playerInput]) error {
	h.tick++
	for i, in := range inputs {
		if i >= len(h.pos) {
			break
		}
		h.pos[i] += int32(in.Data.AxisX)
	}
	return nil
}

func (h *demoHost) OnSessionStart() { h.logger.Info("session synchronized") }
func (h *demoHost) OnSessionClose() { h.logger.Info("session closed") }

func (h *demoHost) OnPeerEvent(p input.Handle, ev peer.Event) {
	h.logger.Info("peer event", zap.Stringer("player", p), zap.Stringer("type", ev.Type))
}

func (h *demoHost) TimeSync(sleepFrames int) {
	h.logger.Debug("time_sync recommendation", zap.Int("sleep_frames", sleepFrames))
}
