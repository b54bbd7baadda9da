package models

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus int

const (
	StatusCreated OrderStatus = iota
	StatusAccepted
	StatusCompleted
	StatusRejected
	StatusCanceled
)

var statusLabels = map[OrderStatus]string{
	StatusCreated:   "CREATED",
	StatusAccepted:  "ACCEPTED",
	StatusCompleted: "EXECUTED",
	StatusRejected:  "REJECTED",
	StatusCanceled:  "CANCELED",
}

// AllStatuses lists every order status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{StatusCreated, StatusAccepted, StatusCompleted, StatusRejected, StatusCanceled}
}

func (s OrderStatus) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCanceled
}

// Stage orders statuses along the lifecycle: created, accepted, terminal.
func (s OrderStatus) Stage() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusAccepted:
		return 1
	default:
		return 2
	}
}

// ParseOrderStatus accepts the ledger labels plus COMPLETED as an alias of EXECUTED.
func ParseOrderStatus(v string) (OrderStatus, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "COMPLETED" {
		return StatusCompleted, nil
	}
	for s, l := range statusLabels {
		if l == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type OrderKind int

const (
	KindEntry OrderKind = iota
	KindTakeProfit
	KindStopLoss
)

var kindLabels = map[OrderKind]string{
	KindEntry:      "ENTRY",
	KindTakeProfit: "TAKE_PROFIT",
	KindStopLoss:   "STOP_LOSS",
}

func (k OrderKind) String() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

func ParseOrderKind(v string) (OrderKind, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for k, l := range kindLabels {
		if l == v {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown order kind %q", v)
}

func (k OrderKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OrderKind) UnmarshalText(b []byte) error {
	v, err := ParseOrderKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Order is one leg of a bracket as seen by the engine.
type Order struct {
	ID             int64       `json:"id"`
	ParentID       int64       `json:"parentId,omitempty"` // 0 for entry orders
	Kind           OrderKind   `json:"kind"`
	Action         Action      `json:"action"`
	Status         OrderStatus `json:"status"`
	RequestedPrice float64     `json:"requestedPrice"`
	ExecutedPrice  *float64    `json:"executedPrice,omitempty"`
	Size           float64     `json:"size"`
	// Disabled marks a stop-loss leg that can never trigger.
	Disabled bool `json:"disabled,omitempty"`
}

// Notification is a status update delivered by the execution venue.
// Kind, Action, ParentID and Price echo the venue's view of the order so
// that updates for orders the engine no longer tracks can still be logged.
type Notification struct {
	OrderID       int64
	ParentID      int64
	Kind          OrderKind
	Action        Action
	Status        OrderStatus
	Price         float64
	ExecutedPrice *float64
	Time          time.Time
}

// NotificationFor builds a notification echoing o with a new status.
func NotificationFor(o Order, status OrderStatus, executed *float64, t time.Time) Notification {
	return Notification{
		OrderID:       o.ID,
		ParentID:      o.ParentID,
		Kind:          o.Kind,
		Action:        o.Action,
		Status:        status,
		Price:         o.RequestedPrice,
		ExecutedPrice: executed,
		Time:          t,
	}
}
