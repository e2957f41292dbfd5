package notify

import (
	"time"

	"github.com/google/uuid"
)

// Action identifiers offered on every push notification
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// Action is a button shown on a notification
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is the application data attached to a notification
type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    any   `json:"primaryKey"`
}

// Notification is what the page renders through the platform notification API
type Notification struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon,omitempty"`
	Badge   string   `json:"badge,omitempty"`
	Vibrate []int    `json:"vibrate,omitempty"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// Options configures how notifications are built and routed
type Options struct {
	AppName     string `json:"app_name"`
	Icon        string `json:"icon"`
	Badge       string `json:"badge"`
	Vibrate     []int  `json:"vibrate"`
	ExploreIcon string `json:"explore_icon"`
	CloseIcon   string `json:"close_icon"`

	// ExploreURL is the in-app route opened by the explore action
	ExploreURL string `json:"explore_url"`
}

// DefaultOptions returns the TuneMe notification defaults
func DefaultOptions() Options {
	return Options{
		AppName:     "US EXPLO",
		Icon:        "/logo192.png",
		Badge:       "/logo192.png",
		Vibrate:     []int{100, 50, 100},
		ExploreIcon: "/images/checkmark.png",
		CloseIcon:   "/images/xmark.png",
		ExploreURL:  "/#explore",
	}
}

// Build turns a push payload into a notification with the two fixed actions
func (o Options) Build(p Payload) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Title:   p.Title,
		Body:    p.Body,
		Icon:    o.Icon,
		Badge:   o.Badge,
		Vibrate: append([]int(nil), o.Vibrate...),
		Data: Data{
			DateOfArrival: time.Now().UnixMilli(),
			PrimaryKey:    p.PrimaryKey,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Explorer", Icon: o.ExploreIcon},
			{Action: ActionClose, Title: "Fermer", Icon: o.CloseIcon},
		},
	}
}
