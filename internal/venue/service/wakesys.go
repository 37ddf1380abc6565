package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/venue/store"
)

const wakesysQueryPath = "/files_for_admin_and_browser/sql_query/query_operator.php"

// WakesysValidator queries each configured gate interface in turn and
// accepts on the first that reports a valid card.
type WakesysValidator struct {
	base          string
	interfaceIDs  []int
	interfaceType string
	client        *httpx.Client
	clock         clock.Clock
	loc           *time.Location
}

func NewWakesysValidator(in store.Integration, client *httpx.Client, clk clock.Clock, loc *time.Location) *WakesysValidator {
	base := strings.TrimRight(in.BaseURL, "/")
	if base == "" {
		account := strings.TrimSpace(in.Extra["account"])
		if account == "" {
			account = "default"
		}
		base = "https://" + account + ".wakesys.com"
	}

	ids := parseIDList(in.Extra["interfaceIds"])
	if len(ids) == 0 {
		ids = parseIDList(in.Extra["interfaceId"])
	}
	if len(ids) == 0 {
		ids = []int{2}
	}

	typ := strings.TrimSpace(in.Extra["interfaceType"])
	if typ == "" {
		typ = "gate"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WakesysValidator{base: base, interfaceIDs: ids, interfaceType: typ, client: client, clock: clk, loc: loc}
}

func (*WakesysValidator) Name() string { return string(store.ProviderWakesys) }

type wakesysValue struct {
	CardValid   string          `json:"card_valid"`
	NextTickets json.RawMessage `json:"next_tickets"`
	ValidUntil  string          `json:"valid_until"`
}

type wakesysResponse struct {
	Data struct {
		Value *wakesysValue `json:"value"`
	} `json:"data"`
}

func (w *WakesysValidator) Validate(ctx context.Context, code string) (Verdict, error) {
	for _, id := range w.interfaceIDs {
		q := url.Values{}
		q.Set("interface", "gate")
		q.Set("interface_id", strconv.Itoa(id))
		q.Set("controller_interface_type", w.interfaceType)
		q.Set("id", code)

		var resp wakesysResponse
		if err := w.client.GetJSON(ctx, w.base+wakesysQueryPath+"?"+q.Encode(), nil, &resp); err != nil {
			return Verdict{}, fmt.Errorf("wakesys interface %d: %w", id, err)
		}
		if w.valueValid(resp.Data.Value) {
			return Verdict{Valid: true, Detail: "interface " + strconv.Itoa(id)}, nil
		}
	}
	return Verdict{}, nil
}

func (w *WakesysValidator) valueValid(v *wakesysValue) bool {
	if v == nil {
		return false
	}
	if v.CardValid == "yes" {
		return true
	}
	var tickets []json.RawMessage
	if len(v.NextTickets) > 0 && json.Unmarshal(v.NextTickets, &tickets) == nil && len(tickets) > 0 {
		return true
	}
	if v.ValidUntil != "" {
		// Both sides are zero-padded HH:MM, so string order is time order.
		return v.ValidUntil >= w.clock.Now().In(w.loc).Format("15:04")
	}
	return false
}

// parseIDList reads "3", "3,4" or "[3, 4]".
func parseIDList(s string) []int {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}
