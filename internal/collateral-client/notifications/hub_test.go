package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalReplacesTransactionOfSameInvocation(t *testing.T) {
	h := NewHub()
	changes := make(chan Change, 8)
	sub := h.Subscribe(changes)
	defer sub.Unsubscribe()

	a, b := NewInvocation(), NewInvocation()
	txA := h.Transaction(a, "Borrowing 1 sUSD", "0xaa", "https://etherscan.io/tx/0xaa")
	h.Transaction(b, "Approving renBTC", "0xbb", "")
	done := h.Success(a, "Borrowed 1 sUSD", "0xaa", "https://etherscan.io/tx/0xaa")

	list := h.List()
	require.Len(t, list, 2)
	assert.Equal(t, KindTransaction, list[0].Kind)
	assert.Equal(t, b, list[0].InvocationID)
	assert.Equal(t, done.ID, list[1].ID)
	assert.Equal(t, KindSuccess, list[1].Kind)

	assert.Equal(t, OpAdded, (<-changes).Op)
	assert.Equal(t, OpAdded, (<-changes).Op)
	c := <-changes
	assert.Equal(t, OpReplaced, c.Op)
	assert.Equal(t, txA.ID, c.ReplacedID)
}

func TestErrorWithoutTransactionIsAppended(t *testing.T) {
	h := NewHub()
	h.Error(NewInvocation(), "Enter sUSD amount..", "", "")
	list := h.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Terminal())
	assert.NotEmpty(t, list[0].ID)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestDismiss(t *testing.T) {
	h := NewHub()
	n := h.Success("", "ok", "", "")
	assert.True(t, h.Dismiss(n.ID))
	assert.False(t, h.Dismiss(n.ID))
	assert.Empty(t, h.List())
}

func TestListIsBounded(t *testing.T) {
	h := NewHub()
	h.limit = 3
	for i := 0; i < 5; i++ {
		h.Error("", "boom", "", "")
	}
	assert.Len(t, h.List(), 3)
}
