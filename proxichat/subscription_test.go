package proxichat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionReleasesAllHandlers(t *testing.T) {
	c, ft := newTestConn(t)

	got := make(chan string, 8)
	sub := c.Subscribe(map[string]func(json.RawMessage){
		"alpha": func(json.RawMessage) { got <- "alpha" },
		"beta":  func(json.RawMessage) { got <- "beta" },
	})

	ft.push(t, "alpha", nil)
	ft.push(t, "beta", nil)
	flush(t, c, ft)
	assert.Len(t, got, 2)

	sub.Close()
	sub.Close() // released exactly once, safe on every exit path

	ft.push(t, "alpha", nil)
	ft.push(t, "beta", nil)
	flush(t, c, ft)
	assert.Len(t, got, 2)
}

func TestSubscriptionNilSafe(t *testing.T) {
	var sub *Subscription
	sub.Close()
}
