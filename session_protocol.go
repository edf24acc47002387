package bidi

import "github.com/go-json-experiment/json/jsontext"

const (
	MethodSubscribe   = "session.subscribe"
	MethodUnsubscribe = "session.unsubscribe"
)

// SubscribeParameters are the params of session.subscribe.
type SubscribeParameters struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts,omitzero"`
}

func (SubscribeParameters) Method() string { return MethodSubscribe }

// SubscribeResult is the result of session.subscribe. Older remote ends
// return an empty object.
type SubscribeResult struct {
	Subscription string         `json:"subscription,omitzero"`
	Extra        jsontext.Value `json:",unknown"`
}

// UnsubscribeParameters are the params of session.unsubscribe. Either
// Subscriptions or Events is set.
type UnsubscribeParameters struct {
	Events        []string `json:"events,omitzero"`
	Subscriptions []string `json:"subscriptions,omitzero"`
}

func (UnsubscribeParameters) Method() string { return MethodUnsubscribe }
