package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/venuegate/server/internal/httpx"
)

// DefaultShellyCloudServer is used when the cloud integration has no base URL.
const DefaultShellyCloudServer = "shelly-46-eu.shelly.cloud"

var errTransportRejected = errors.New("transport rejected command")

// RelayTarget is everything a transport may need to reach one relay.
type RelayTarget struct {
	IPAddress string
	CloudID   string // without the channel suffix
	Channel   int    // zero based
	Cloud     *CloudCredential
}

type CloudCredential struct {
	BaseURL string // scheme optional
	AuthKey string
}

// RelayState is a transport's reading of a relay.
type RelayState struct {
	Online bool
	Output *bool
	PowerW *float64
}

// RelayTransport is one way of reaching a relay. The actuator tries its
// transports in order and stops at the first success.
type RelayTransport interface {
	Name() string
	Available(t RelayTarget) bool
	// Switch sets the output. A positive autoOff asks the relay to turn
	// itself off again after that long.
	Switch(ctx context.Context, t RelayTarget, on bool, autoOff time.Duration) error
	Status(ctx context.Context, t RelayTarget) (RelayState, error)
}

// DefaultRelayTransports is local RPC, local legacy HTTP, then cloud.
func DefaultRelayTransports(local, cloud *httpx.Client) []RelayTransport {
	return []RelayTransport{
		&ShellyGen2{client: local},
		&ShellyGen1{client: local},
		&ShellyCloud{client: cloud},
	}
}

// ChannelIndex derives the zero-based relay channel from an "_N" suffix
// (1-based). No suffix, or one that is not a positive number, is channel 0.
func ChannelIndex(deviceID string) int {
	i := strings.LastIndexByte(deviceID, '_')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(deviceID[i+1:])
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

// BaseDeviceID strips the channel suffix.
func BaseDeviceID(deviceID string) string {
	base, _, _ := strings.Cut(deviceID, "_")
	return base
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ── Local RPC (Gen2) ────────────────────────────────────────────────────────

type ShellyGen2 struct {
	client *httpx.Client
}

func NewShellyGen2(client *httpx.Client) *ShellyGen2 { return &ShellyGen2{client: client} }

func (*ShellyGen2) Name() string                 { return "shelly_gen2" }
func (*ShellyGen2) Available(t RelayTarget) bool { return t.IPAddress != "" }

type switchSetRequest struct {
	ID          int      `json:"id"`
	On          bool     `json:"on"`
	ToggleAfter *float64 `json:"toggle_after,omitempty"`
}

func (g *ShellyGen2) Switch(ctx context.Context, t RelayTarget, on bool, autoOff time.Duration) error {
	req := switchSetRequest{ID: t.Channel, On: on}
	if autoOff > 0 && on {
		secs := autoOff.Seconds()
		req.ToggleAfter = &secs
	}
	return g.client.PostJSON(ctx, "http://"+t.IPAddress+"/rpc/Switch.Set", req, nil, nil)
}

func (g *ShellyGen2) Status(ctx context.Context, t RelayTarget) (RelayState, error) {
	var resp struct {
		Output *bool    `json:"output"`
		APower *float64 `json:"apower"`
	}
	u := "http://" + t.IPAddress + "/rpc/Switch.GetStatus?id=" + strconv.Itoa(t.Channel)
	if err := g.client.GetJSON(ctx, u, nil, &resp); err != nil {
		return RelayState{}, err
	}
	if resp.Output == nil {
		return RelayState{}, fmt.Errorf("switch %d: %w", t.Channel, errTransportRejected)
	}
	return RelayState{Online: true, Output: resp.Output, PowerW: resp.APower}, nil
}

// ── Local legacy HTTP (Gen1) ────────────────────────────────────────────────

type ShellyGen1 struct {
	client *httpx.Client
}

func NewShellyGen1(client *httpx.Client) *ShellyGen1 { return &ShellyGen1{client: client} }

func (*ShellyGen1) Name() string                 { return "shelly_gen1" }
func (*ShellyGen1) Available(t RelayTarget) bool { return t.IPAddress != "" }

func (g *ShellyGen1) Switch(ctx context.Context, t RelayTarget, on bool, autoOff time.Duration) error {
	q := url.Values{}
	q.Set("turn", onOff(on))
	if autoOff > 0 && on {
		q.Set("timer", strconv.Itoa(int(math.Ceil(autoOff.Seconds()))))
	}
	u := "http://" + t.IPAddress + "/relay/" + strconv.Itoa(t.Channel) + "?" + q.Encode()
	return g.client.GetJSON(ctx, u, nil, nil)
}

type gen1Status struct {
	Relays []struct {
		IsOn bool `json:"ison"`
	} `json:"relays"`
	Meters []struct {
		Power float64 `json:"power"`
	} `json:"meters"`
}

func (s gen1Status) state(channel int) RelayState {
	st := RelayState{Online: true}
	if channel < len(s.Relays) {
		on := s.Relays[channel].IsOn
		st.Output = &on
	}
	if channel < len(s.Meters) {
		p := s.Meters[channel].Power
		st.PowerW = &p
	}
	return st
}

func (g *ShellyGen1) Status(ctx context.Context, t RelayTarget) (RelayState, error) {
	var resp gen1Status
	if err := g.client.GetJSON(ctx, "http://"+t.IPAddress+"/status", nil, &resp); err != nil {
		return RelayState{}, err
	}
	return resp.state(t.Channel), nil
}

// ── Cloud ───────────────────────────────────────────────────────────────────

type ShellyCloud struct {
	client *httpx.Client
}

func NewShellyCloud(client *httpx.Client) *ShellyCloud { return &ShellyCloud{client: client} }

func (*ShellyCloud) Name() string { return "shelly_cloud" }

func (*ShellyCloud) Available(t RelayTarget) bool {
	return t.CloudID != "" && t.Cloud != nil && t.Cloud.AuthKey != ""
}

// CloudBaseURL prefixes https:// when base has no scheme.
func CloudBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultShellyCloudServer
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base
}

// The cloud relay API has no auto-off; the actuator follows up with an
// explicit off for pulses.
func (c *ShellyCloud) Switch(ctx context.Context, t RelayTarget, on bool, _ time.Duration) error {
	form := url.Values{}
	form.Set("auth_key", t.Cloud.AuthKey)
	form.Set("id", t.CloudID)
	form.Set("channel", strconv.Itoa(t.Channel))
	form.Set("turn", onOff(on))

	var resp struct {
		IsOK bool `json:"isok"`
	}
	if err := c.client.PostForm(ctx, CloudBaseURL(t.Cloud.BaseURL)+"/device/relay/control", form, &resp); err != nil {
		return err
	}
	if !resp.IsOK {
		return errTransportRejected
	}
	return nil
}

type cloudSwitch struct {
	Output *bool    `json:"output"`
	APower *float64 `json:"apower"`
}

func (c *ShellyCloud) Status(ctx context.Context, t RelayTarget) (RelayState, error) {
	form := url.Values{}
	form.Set("auth_key", t.Cloud.AuthKey)
	form.Set("id", t.CloudID)

	var raw struct {
		IsOK bool `json:"isok"`
		Data struct {
			Online       bool                       `json:"online"`
			DeviceStatus map[string]json.RawMessage `json:"device_status"`
		} `json:"data"`
	}
	if err := c.client.PostForm(ctx, CloudBaseURL(t.Cloud.BaseURL)+"/device/status", form, &raw); err != nil {
		return RelayState{}, err
	}
	if !raw.IsOK {
		return RelayState{}, errTransportRejected
	}

	st := RelayState{Online: raw.Data.Online}
	if b, ok := raw.Data.DeviceStatus["switch:"+strconv.Itoa(t.Channel)]; ok {
		var sw cloudSwitch
		if err := json.Unmarshal(b, &sw); err == nil && sw.Output != nil {
			st.Output = sw.Output
			st.PowerW = sw.APower
			return st, nil
		}
	}

	var legacy gen1Status
	if b, ok := raw.Data.DeviceStatus["relays"]; ok {
		_ = json.Unmarshal(b, &legacy.Relays)
	}
	if b, ok := raw.Data.DeviceStatus["meters"]; ok {
		_ = json.Unmarshal(b, &legacy.Meters)
	}
	ls := legacy.state(t.Channel)
	st.Output, st.PowerW = ls.Output, ls.PowerW
	return st, nil
}
