// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"time"
)

// SyslogConfig describes an optional syslog forwarder.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the forwarder's defaults: disabled, UDP 514,
// tag "ipsentry", facility 1 (user-level messages).
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "ipsentry",
		Facility: 1,
	}
}

// SyslogWriter forwards one line per notable event to a remote syslog
// collector using RFC 3164 framing.
type SyslogWriter struct {
	conn net.Conn
	cfg  SyslogConfig
}

// NewSyslogWriter dials the configured syslog collector. Host is required;
// Port, Protocol and Tag are defaulted when left zero-valued.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "ipsentry"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.Dial(cfg.Protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog collector: %w", err)
	}

	return &SyslogWriter{conn: conn, cfg: cfg}, nil
}

// WriteEvent emits one "[ACCEPT|DROP|ERROR] <src> -> <dst>; proto: <p>; <reason>"
// line, wrapped in an RFC 3164 header.
func (w *SyslogWriter) WriteEvent(verdict, src, dst, proto, reason string) error {
	priority := w.cfg.Facility*8 + 6 // severity 6 = informational
	line := fmt.Sprintf("[%s] %s -> %s; proto: %s; %s", verdict, src, dst, proto, reason)
	packet := fmt.Sprintf("<%d>%s %s: %s\n", priority, time.Now().Format(time.Stamp), w.cfg.Tag, line)
	_, err := w.conn.Write([]byte(packet))
	return err
}

// Close releases the underlying connection.
func (w *SyslogWriter) Close() error {
	return w.conn.Close()
}
