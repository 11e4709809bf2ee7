package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiresEverySubcommand(t *testing.T) {
	root := newRootCommand()

	want := []string{
		"serve", "connect", "disconnect", "status", "loans", "open",
		"deposit", "withdraw", "repay", "draw", "close",
		"owings", "settle", "withdrawals", "claim-withdrawal",
		"rewards", "claim-reward", "stats", "hedge", "loan-tx", "history",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.Len(t, root.Commands(), len(want))
}

func TestArgumentValidation(t *testing.T) {
	root := newRootCommand()

	cases := []struct {
		name string
		args []string
		ok   bool
	}{
		{"deposit", []string{"eth", "1", "0.5"}, true},
		{"deposit", []string{"eth", "1"}, false},
		{"open", []string{"eth", "sUSD", "1", "100"}, true},
		{"loans", nil, true},
		{"loans", []string{"eth", "1"}, true},
		{"loans", []string{"eth"}, false},
		{"settle", nil, false},
		{"claim-withdrawal", []string{"x"}, false},
	}
	for _, tc := range cases {
		cmd, _, err := root.Find([]string{tc.name})
		require.NoError(t, err)
		err = cmd.ValidateArgs(tc.args)
		if tc.ok {
			assert.NoError(t, err, "%s %v", tc.name, tc.args)
		} else {
			assert.Error(t, err, "%s %v", tc.name, tc.args)
		}
	}
}

func TestAdjustFlags(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"deposit", "withdraw", "repay", "draw", "close", "open", "hedge"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.NotNil(t, cmd.Flags().Lookup(flagApprove), name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup(flagNetwork))
	assert.NotNil(t, root.PersistentFlags().Lookup(flagProvider))
}
