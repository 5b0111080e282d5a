package dmx

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	ArtNetPort    = 6454
	artNetHeader  = "Art-Net\x00"
	opDmx         = 0x5000
	protocolVer   = 14
	artDmxHeadLen = 18
)

// ArtNetConfig is persisted as a part of configuration document.
type ArtNetConfig struct {
	Host        string `json:"host" yaml:"host" toml:"host"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	Universe    uint16 `json:"universe" yaml:"universe" toml:"universe"`
	RefreshRate int    `json:"refreshRate" yaml:"refresh_rate" toml:"refresh_rate"` // keep-alive frames per second
}

func (c ArtNetConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = ArtNetPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c ArtNetConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port out of range: %d", ErrInvalidConfig, c.Port)
	}
	if c.Universe > 0x7fff {
		return fmt.Errorf("%w: universe out of range 0-32767: %d", ErrInvalidConfig, c.Universe)
	}
	if c.RefreshRate < 0 {
		return fmt.Errorf("%w: refresh rate is negative: %d", ErrInvalidConfig, c.RefreshRate)
	}
	return nil
}

// Interval returns time between keep-alive frames, one second when rate is not set.
func (c ArtNetConfig) Interval() time.Duration {
	if c.RefreshRate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.RefreshRate)
}

// BuildArtDMX constructs an ArtDMX packet for given universe (15-bit port address) and payload.
func BuildArtDMX(seq uint8, universe uint16, data []byte) []byte {
	length := len(data)
	if length%2 == 1 {
		length++ // payload length has to be even
	}
	packet := make([]byte, artDmxHeadLen+length)
	copy(packet[0:], artNetHeader)
	binary.LittleEndian.PutUint16(packet[8:], opDmx)
	packet[10], packet[11] = 0, protocolVer
	packet[12] = seq
	packet[13] = 0                         // physical
	packet[14] = uint8(universe & 0xff)    // SubUni
	packet[15] = uint8(universe>>8) & 0x7f // Net
	binary.BigEndian.PutUint16(packet[16:], uint16(length))
	copy(packet[artDmxHeadLen:], data)
	return packet
}

// ArtNetSink keeps the whole universe frame and sends it as ArtDMX over UDP.
type ArtNetSink struct {
	mutex  sync.Mutex
	config ArtNetConfig
	conn   *net.UDPConn
	target *net.UDPAddr
	frame  [Channels]byte
	seq    uint8

	changed      chan struct{}
	reconfigured chan struct{}
}

func NewArtNetSink(cfg ArtNetConfig) *ArtNetSink {
	return &ArtNetSink{
		config:       cfg,
		changed:      make(chan struct{}, 1),
		reconfigured: make(chan struct{}, 1),
	}
}

// Open resolves target address and opens broadcast capable UDP socket.
func (s *ArtNetSink) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.open()
}

func (s *ArtNetSink) open() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	target, err := net.ResolveUDPAddr("udp4", s.config.Address())
	if err != nil {
		return fmt.Errorf("cannot resolve artnet target: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("cannot open udp socket: %w", err)
	}

	err = enableBroadcast(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot enable broadcast on udp socket: %w", err)
	}

	s.conn = conn
	s.target = target
	log.Info("ArtNet output opened", zap.String("target", target.String()), zap.Uint16("universe", s.config.Universe), logger.Info)
	return nil
}

func enableBroadcast(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Reconfigure switches the sink to new target, the current frame is retained.
func (s *ArtNetSink) Reconfigure(cfg ArtNetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.config = cfg
	select {
	case s.reconfigured <- struct{}{}:
	default:
	}
	if err := s.open(); err != nil {
		return err
	}
	s.markChanged()
	return nil
}

func (s *ArtNetSink) Config() ArtNetConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.config
}

func (s *ArtNetSink) SetChannel(index int, value uint8) error {
	if err := ValidChannel(index); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn == nil {
		return ErrSinkUnavailable
	}
	s.frame[index] = value
	s.markChanged()
	return nil
}

func (s *ArtNetSink) markChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Transmit sends current frame immediately.
func (s *ArtNetSink) Transmit() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn == nil {
		return ErrSinkUnavailable
	}

	packet := BuildArtDMX(s.seq, s.config.Universe, s.frame[:])
	s.seq++
	if s.seq == 0 {
		s.seq = 1 // 0 disables sequencing on receivers
	}
	_, err := s.conn.WriteToUDP(packet, s.target)
	if err != nil {
		return fmt.Errorf("artdmx send failed: %w", err)
	}
	return nil
}

// Run transmits the frame whenever it changes and re-sends it periodically, receivers tend to
// release outputs when frames stop arriving.
// Refresh rate follows Reconfigure.
func (s *ArtNetSink) Run(ctx context.Context) {
	refresh := s.Config().Interval()
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconfigured:
			if next := s.Config().Interval(); next != refresh {
				refresh = next
				ticker.Reset(refresh)
				log.Info("ArtNet refresh interval changed", zap.Duration("interval", refresh), logger.Debug)
			}
			continue
		case <-s.changed:
		case <-ticker.C:
		}
		err := s.Transmit()
		if err != nil {
			log.Info(fmt.Sprintf("ArtNet transmit failed: %s", err), logger.Warning)
		}
	}
}

func (s *ArtNetSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
