package notify

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// Zabbix sender protocol constants.
const (
	zabbixTimeout    = 5000 * time.Millisecond
	zabbixHeaderSize = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize     = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// ErrZabbixNotConfigured is returned when a test is requested without a target.
var ErrZabbixNotConfigured = errors.New("zabbix server, host and key must be configured")

// ZabbixTarget identifies the trapper item that receives events.
type ZabbixTarget struct {
	Server string
	Port   int
	Host   string
	Key    string
}

// IsConfigured reports whether every field needed for delivery is set.
func (t ZabbixTarget) IsConfigured() bool {
	return util.IsConfigured(t.Server, t.Host, t.Key) && t.Port > 0
}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// ZabbixNotifier sends failure lifecycle events to a Zabbix trapper item.
// It implements monitor.Observer.
type ZabbixNotifier struct {
	targetFn func() ZabbixTarget
	wg       sync.WaitGroup
}

// NewZabbixNotifier creates a notifier that reads its target from targetFn for every event.
func NewZabbixNotifier(targetFn func() ZabbixTarget) *ZabbixNotifier {
	return &ZabbixNotifier{targetFn: targetFn}
}

// OnLifecycle implements monitor.Observer. Only failure events are sent.
func (n *ZabbixNotifier) OnLifecycle(ev types.LifecycleEvent) {
	if ev.Type != types.MonitorFailed && ev.Type != types.DeviceUnavailable {
		return
	}
	target := n.targetFn()
	if !target.IsConfigured() {
		return
	}

	value := formatZabbixValue(ev)
	n.wg.Go(func() {
		util.LogNotifyResult(func() error {
			return sendZabbixValue(target, value)
		}, "zabbix", "event", ev.Type, "source", ev.Source)
	})
}

// Wait blocks until all pending sends have finished.
func (n *ZabbixNotifier) Wait() {
	n.wg.Wait()
}

// SendTest sends a test value synchronously.
func (n *ZabbixNotifier) SendTest() error {
	target := n.targetFn()
	if !target.IsConfigured() {
		return ErrZabbixNotConfigured
	}
	return sendZabbixValue(target, "event=TEST app=levelmon")
}

// formatZabbixValue renders ev as space separated key=value pairs.
func formatZabbixValue(ev types.LifecycleEvent) string {
	parts := []string{"event=" + string(ev.Type), "source=" + string(ev.Source)}
	if ev.DeviceID != "" {
		parts = append(parts, "device="+ev.DeviceID)
	}
	if msg := ev.ErrorMessage(); msg != "" {
		parts = append(parts, strconv.Quote(msg))
	}
	return strings.Join(parts, " ")
}

func sendZabbixValue(target ZabbixTarget, value string) error {
	return sendZabbixPayload(target.Server, target.Port, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: target.Host, Key: target.Key, Value: value}},
	})
}

// sendZabbixPayload writes one sender request and checks the server reply.
func sendZabbixPayload(server string, port int, payload zabbixRequest) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	addr := net.JoinHostPort(server, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, zabbixTimeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer util.SafeCloseFunc(conn, "zabbix connection")()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	if _, err := conn.Write(zabbixFrame(data)); err != nil {
		return util.WrapError("write zabbix request", err)
	}

	reply, err := readZabbixFrame(conn)
	if err != nil {
		return err
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	// Host or key unknown to the server.
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}
	return nil
}

// zabbixFrame prefixes data with the protocol header.
func zabbixFrame(data []byte) []byte {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(frame[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:], uint64(len(data)))
	return append(frame, data...)
}

func readZabbixFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(header[0:5], zabbixMagic[:]) {
		return nil, fmt.Errorf("invalid zabbix reply header")
	}

	size := binary.LittleEndian.Uint64(header[5:])
	if size == 0 {
		return nil, fmt.Errorf("empty zabbix reply")
	}
	if size > maxReplySize {
		return nil, fmt.Errorf("zabbix reply too large: %d bytes (max %d)", size, maxReplySize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, util.WrapError("read zabbix reply body", err)
	}
	return body, nil
}
