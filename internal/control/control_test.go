package control

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeQueuer struct {
	cmds []Command
	err  error
}

type donePending struct {
	ids []string
	err error
}

func (p donePending) Wait(context.Context) ([]string, error) { return p.ids, p.err }

func (f *fakeQueuer) Enqueue(_ context.Context, cmd Command) (Pending, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cmds = append(f.cmds, cmd)
	if cmd.Type == CommandCreate {
		return donePending{ids: []string{"1"}}, nil
	}
	if cmd.Type == CommandRestart {
		return donePending{err: errors.New("restart failed")}, nil
	}
	return donePending{}, nil
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Command
		wantErr error
	}{
		{
			name:  "create",
			input: `{"type":"create","data":{"names":["build","lint"],"closeAll":true}}`,
			want:  Command{Type: CommandCreate, Names: []string{"build", "lint"}, CloseAll: true},
		},
		{
			name:  "create without data",
			input: `{"type":"create"}`,
			want:  Command{Type: CommandCreate},
		},
		{
			name:  "restart",
			input: `{"type":"restart","data":{"id":"7"}}`,
			want:  Command{Type: CommandRestart, ID: "7"},
		},
		{
			name:  "numeric id",
			input: `{"type":"stop","data":{"id":3}}`,
			want:  Command{Type: CommandStop, ID: "3"},
		},
		{
			name:  "close-all",
			input: `{"type":"close-all","data":{}}`,
			want:  Command{Type: CommandCloseAll},
		},
		{name: "missing id", input: `{"type":"close","data":{}}`, wantErr: ErrMissingID},
		{name: "unknown", input: `{"type":"explode","data":{}}`, wantErr: ErrUnknownCommand},
		{name: "not json", input: `create build`, wantErr: ErrMalformed},
		{name: "array", input: `["create"]`, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvelope([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseData(t *testing.T) {
	cmd, err := ParseData(CommandStart, []byte(`{"id":"2"}`))
	if err != nil || cmd.ID != "2" {
		t.Fatalf("got %+v, %v", cmd, err)
	}

	cmd, err = ParseData(CommandCloseAll, nil)
	if err != nil || cmd.Type != CommandCloseAll {
		t.Fatalf("got %+v, %v", cmd, err)
	}

	if _, err := ParseData(CommandStop, nil); !errors.Is(err, ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
	if _, err := ParseData(CommandStop, []byte("{")); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestExecute(t *testing.T) {
	f := &fakeQueuer{}
	ctx := context.Background()

	ids, err := Execute(ctx, f, Command{Type: CommandCreate, Names: []string{"a"}, CloseAll: true})
	if err != nil || !reflect.DeepEqual(ids, []string{"1"}) {
		t.Fatalf("create: %v, %v", ids, err)
	}
	if _, err := Execute(ctx, f, Command{Type: CommandStop, ID: "1"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := Execute(ctx, f, Command{Type: CommandRestart, ID: "1"}); err == nil || err.Error() != "restart failed" {
		t.Errorf("expected the outcome error, got %v", err)
	}
	if len(f.cmds) != 3 || !f.cmds[0].CloseAll {
		t.Errorf("unexpected enqueued commands %+v", f.cmds)
	}

	f.err = ErrUnknownCommand
	if _, err := Execute(ctx, f, Command{Type: "bogus"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}
