package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Tigermouthbear/ttvattendance/attendance"
)

const defaultChattersURL = "https://tmi.twitch.tv"

// ChattersClient fetches the role-grouped chat participant list for a channel.
type ChattersClient struct {
	HTTPClient *http.Client
	// BaseURL overrides the chatters endpoint (configurable for testing).
	BaseURL string
}

func (cc *ChattersClient) http() *http.Client {
	if cc.HTTPClient != nil {
		return cc.HTTPClient
	}
	return http.DefaultClient
}

func (cc *ChattersClient) base() string {
	if cc.BaseURL != "" {
		return cc.BaseURL
	}
	return defaultChattersURL
}

// chatterGroups mirrors the upstream payload: one name list per role group.
type chatterGroups struct {
	Broadcaster []string `json:"broadcaster"`
	VIPs        []string `json:"vips"`
	Moderators  []string `json:"moderators"`
	Staff       []string `json:"staff"`
	Admins      []string `json:"admins"`
	GlobalMods  []string `json:"global_mods"`
	Viewers     []string `json:"viewers"`
}

// GetChatters returns the current roster for a channel. A payload without the
// chatters object is malformed and returned as an error (the caller retries
// it like any transient failure).
func (cc *ChattersClient) GetChatters(ctx context.Context, channel string) (attendance.Roster, error) {
	if channel == "" {
		return attendance.Roster{}, fmt.Errorf("channel empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cc.base()+"/group/user/"+channel+"/chatters", nil)
	if err != nil {
		return attendance.Roster{}, err
	}
	resp, err := cc.http().Do(req)
	if err != nil {
		return attendance.Roster{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return attendance.Roster{}, fmt.Errorf("chatters request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		ChatterCount int            `json:"chatter_count"`
		Chatters     *chatterGroups `json:"chatters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return attendance.Roster{}, fmt.Errorf("decode chatters response: %w", err)
	}
	if body.Chatters == nil {
		return attendance.Roster{}, fmt.Errorf("chatters response missing chatters object")
	}

	roster := attendance.Roster{
		Headcount: body.ChatterCount,
		Chatters:  make(map[string]attendance.Role),
	}
	groups := map[string][]string{
		"broadcaster": body.Chatters.Broadcaster,
		"vips":        body.Chatters.VIPs,
		"moderators":  body.Chatters.Moderators,
		"staff":       body.Chatters.Staff,
		"admins":      body.Chatters.Admins,
		"global_mods": body.Chatters.GlobalMods,
		"viewers":     body.Chatters.Viewers,
	}
	for group, names := range groups {
		role := attendance.ParseRole(group)
		for _, name := range names {
			roster.Chatters[name] = role
		}
	}
	return roster, nil
}

// Gateway implements the tracker's upstream interface for one channel.
type Gateway struct {
	Channel  string
	Helix    *HelixClient
	Chatters *ChattersClient
}

func (g *Gateway) CheckLive(ctx context.Context) (bool, error) {
	streams, err := g.Helix.GetStreams(ctx, g.Channel)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}

func (g *Gateway) FetchRoster(ctx context.Context) (attendance.Roster, error) {
	return g.Chatters.GetChatters(ctx, g.Channel)
}
