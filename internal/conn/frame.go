package conn

import "encoding/json"

// Wire frames exchanged with the coordination backend. Subscriptions name
// destinations under "topic/", publishes under "app/".
const (
	frameSubscribe   = "SUBSCRIBE"
	frameUnsubscribe = "UNSUBSCRIBE"
	frameSend        = "SEND"
	frameMessage     = "MESSAGE"
)

const topicPrefix = "topic/"

type frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func subscribeFrame(topicKey string) frame {
	return frame{Type: frameSubscribe, Destination: topicPrefix + topicKey}
}

func unsubscribeFrame(topicKey string) frame {
	return frame{Type: frameUnsubscribe, Destination: topicPrefix + topicKey}
}
