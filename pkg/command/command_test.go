package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
)

func TestParserParse(t *testing.T) {
	p := NewParser()
	cases := []struct {
		in     string
		cmd    bool
		tokens []string
		args   string
	}{
		{in: "/policy hr_policy", cmd: true, tokens: []string{"policy", "hr_policy"}, args: "hr_policy"},
		{in: "  /Policies  ", cmd: true, tokens: []string{"policies"}},
		{in: "What is PTO accrual?", cmd: false},
		{in: "/", cmd: false},
		{in: "//not a command", cmd: false},
		{in: "", cmd: false},
	}
	for _, tc := range cases {
		got := p.Parse(tc.in)
		if got.IsCommand != tc.cmd {
			t.Fatalf("%q: IsCommand=%v", tc.in, got.IsCommand)
		}
		if !tc.cmd {
			continue
		}
		if fmt.Sprint(got.Tokens) != fmt.Sprint(tc.tokens) {
			t.Fatalf("%q: tokens %v, want %v", tc.in, got.Tokens, tc.tokens)
		}
		if got.ArgumentRaw != tc.args {
			t.Fatalf("%q: args %q, want %q", tc.in, got.ArgumentRaw, tc.args)
		}
	}
}

func echoFactory() *cobra.Command {
	root := &cobra.Command{Use: "guard"}
	root.AddCommand(&cobra.Command{
		Use:  "whoami",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			cmd.Printf("you are %s", execCtx.UserID)
			return nil
		},
	})
	return root
}

func TestManagerExecute(t *testing.T) {
	m := NewManager(echoFactory)

	res, err := m.Execute(context.Background(), "alice", "/whoami")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Handled || res.Output != "you are alice" {
		t.Fatalf("unexpected result: %#v", res)
	}

	// 根命令名作为首 token 时同样可用
	res, err = m.Execute(context.Background(), "bob", "/guard whoami")
	if err != nil || res.Output != "you are bob" {
		t.Fatalf("root-prefixed command failed: %#v %v", res, err)
	}

	res, err = m.Execute(context.Background(), "alice", "plain chat")
	if err != nil || res.Handled {
		t.Fatalf("plain text handled as command: %#v %v", res, err)
	}

	res, err = m.Execute(context.Background(), "alice", "/nope")
	if err == nil || !res.Handled {
		t.Fatalf("unknown command should fail: %#v %v", res, err)
	}
}

func TestManagerRequiresUserAndFactory(t *testing.T) {
	if _, err := NewManager(echoFactory).Execute(context.Background(), "", "/whoami"); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	var m *Manager
	if _, err := m.Execute(context.Background(), "alice", "/whoami"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
