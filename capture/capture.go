// Package capture pulls HTTP request lines out of recorded traffic so their
// query strings can be scored.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Request is one HTTP request line seen in a TCP segment.
type Request struct {
	Timestamp time.Time
	Src       string // host:port
	Dst       string // host:port
	Method    string
	Target    string
	Query     string // raw, still percent-encoded
}

var methods = []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT"}

// ReadRequests reads a pcap stream and returns every request line found at
// the start of a TCP payload, in capture order.
func ReadRequests(r io.Reader) ([]Request, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var out []Request
	for {
		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read packet %d: %w", len(out), err)
		}
		if req, ok := Extract(packet); ok {
			out = append(out, req)
		}
	}
}

// Extract returns the request carried by packet, if its TCP payload starts
// with an HTTP request line.
func Extract(packet gopacket.Packet) (Request, bool) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return Request{}, false
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	method, target, ok := parseRequestLine(tcp.Payload)
	if !ok {
		return Request{}, false
	}

	req := Request{
		Timestamp: packet.Metadata().Timestamp,
		Method:    method,
		Target:    target,
		Query:     queryOf(target),
	}
	if nl := packet.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		req.Src = net.JoinHostPort(flow.Src().String(), strconv.Itoa(int(tcp.SrcPort)))
		req.Dst = net.JoinHostPort(flow.Dst().String(), strconv.Itoa(int(tcp.DstPort)))
	}
	return req, true
}

func parseRequestLine(payload []byte) (method, target string, ok bool) {
	line := payload
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSuffix(line, []byte("\r"))

	fields := strings.Split(string(line), " ")
	if len(fields) != 3 || !strings.HasPrefix(fields[2], "HTTP/") {
		return "", "", false
	}
	for _, m := range methods {
		if fields[0] == m {
			return m, fields[1], fields[1] != ""
		}
	}
	return "", "", false
}

func queryOf(target string) string {
	i := strings.IndexByte(target, '?')
	if i < 0 {
		return ""
	}
	q := target[i+1:]
	if j := strings.IndexByte(q, '#'); j >= 0 {
		q = q[:j]
	}
	return q
}
