package events

import (
	"math/big"
	"testing"
)

func transfer(token string, amount int64) Transfer {
	return Transfer{Token: token, From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(amount)}
}

func TestHubFiltersAndDrops(t *testing.T) {
	hub := NewHub(1)
	all, cancelAll := hub.Subscribe(nil)
	defer cancelAll()
	usdc, cancelUSDC := hub.Subscribe(func(evt Event) bool {
		return evt.(Transfer).Token == "usdc"
	})
	defer cancelUSDC()

	hub.Emit(transfer("usdc", 5))
	hub.Emit(transfer("xlm", 7))

	if got := (<-all).(Transfer).Amount.Int64(); got != 5 {
		t.Fatalf("expected first event amount 5, got %d", got)
	}
	if got := (<-usdc).(Transfer).Token; got != "usdc" {
		t.Fatalf("expected usdc event, got %s", got)
	}
	// the second event overflowed the unfiltered subscriber buffer of one
	if hub.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", hub.Dropped())
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe(nil)
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	hub.Emit(transfer("usdc", 1))
}

func TestMultiAndRecorder(t *testing.T) {
	var first, second Recorder
	var nilHub *Hub
	Multi{&first, nil, nilHub, &second}.Emit(transfer("usdc", 3))
	if len(first.Events()) != 1 || len(second.OfType(TypeTransfer)) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
	first.Reset()
	if len(first.Events()) != 0 {
		t.Fatalf("expected reset recorder to be empty")
	}
}

func TestTransferEventAttributes(t *testing.T) {
	evt := transfer("usdc", 42).Event()
	if evt.Type != TypeTransfer {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["token"] != "USDC" || evt.Attributes["amount"] != "42" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
	if evt.Attributes["from"] == evt.Attributes["to"] {
		t.Fatalf("expected distinct addresses")
	}
}
