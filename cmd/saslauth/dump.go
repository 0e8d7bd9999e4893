// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/hex"
	"net"

	"go.uber.org/zap"
)

// dumpConn logs everything that crosses the wire at debug level.
type dumpConn struct {
	net.Conn
	log *zap.Logger
}

func (c dumpConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.log.Debug("read", zap.Int("len", n), zap.String("data", formatBytes(b[:n])))
	}
	return n, err
}

func (c dumpConn) Write(b []byte) (int, error) {
	c.log.Debug("write", zap.Int("len", len(b)), zap.String("data", formatBytes(b)))
	return c.Conn.Write(b)
}

func formatBytes(b []byte) string {
	var out bytes.Buffer
	d := hex.Dumper(&out)
	_, _ = d.Write(b)
	_ = d.Close()

	return "\n" + out.String()
}

// wrapDebug returns conn unchanged unless debug logging is enabled.
func (a *app) wrapDebug(conn net.Conn) net.Conn {
	if !a.v.GetBool("debug") {
		return conn
	}

	return dumpConn{Conn: conn, log: a.logger.With(zap.Stringer("peer", conn.RemoteAddr()))}
}
