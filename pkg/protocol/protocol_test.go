package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("STATUS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdStatus {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for STATUS, got %d", len(cmd.Args))
		}
	})

	t.Run("LEASE Commands", func(t *testing.T) {
		cmd, err := ParseCommand("LEASE:get")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["op"] != "GET" {
			t.Errorf("Expected op GET, got %q", cmd.Args["op"])
		}
		if cmd.Has("token") {
			t.Errorf("Expected no token for GET, got %q", cmd.Args["token"])
		}

		cmd, err = ParseCommand("LEASE:RELEASE:20261014120000-0123456789ab")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["op"] != "RELEASE" {
			t.Errorf("Expected op RELEASE, got %q", cmd.Args["op"])
		}
		if cmd.Args["token"] != "20261014120000-0123456789ab" {
			t.Errorf("Expected token, got %q", cmd.Args["token"])
		}
	})

	t.Run("LEASE Without Op", func(t *testing.T) {
		for _, text := range []string{"LEASE", "LEASE:"} {
			if _, err := ParseCommand(text); !errors.Is(err, rigerr.ErrProtocol) {
				t.Errorf("%s: expected protocol error, got %v", text, err)
			}
		}
	})

	t.Run("FREQ Command", func(t *testing.T) {
		cmd, err := ParseCommand("FREQ:VFOB:7074000")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["vfo"] != "VFOB" {
			t.Errorf("Expected vfo VFOB, got %q", cmd.Args["vfo"])
		}
		hz, err := cmd.Int("hz")
		if err != nil || hz != 7074000 {
			t.Errorf("Expected hz 7074000, got %d (%v)", hz, err)
		}

		cmd, _ = ParseCommand("FREQ")
		if cmd.Has("vfo") || cmd.Has("hz") {
			t.Errorf("Expected bare FREQ to carry no args, got %v", cmd.Args)
		}

		cmd, _ = ParseCommand("FREQ:A:fast")
		if _, err := cmd.Int("hz"); !errors.Is(err, rigerr.ErrInvalidArgument) {
			t.Errorf("Expected invalid argument for non-numeric hz, got %v", err)
		}
	})

	t.Run("MODE Command", func(t *testing.T) {
		cmd, err := ParseCommand("MODE:VFOA:PKTUSB:3000")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["mode"] != "PKTUSB" {
			t.Errorf("Expected mode PKTUSB, got %q", cmd.Args["mode"])
		}
		if cmd.Args["width"] != "3000" {
			t.Errorf("Expected width 3000, got %q", cmd.Args["width"])
		}
	})

	t.Run("CACHE Commands", func(t *testing.T) {
		cmd, err := ParseCommand("CACHE:timeout:FREQ:250")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["action"] != CacheTimeout || cmd.Args["class"] != "FREQ" || cmd.Args["ms"] != "250" {
			t.Errorf("Unexpected args %v", cmd.Args)
		}

		cmd, err = ParseCommand("CACHE:SHOW:VFOC")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["vfo"] != "VFOC" {
			t.Errorf("Expected vfo VFOC, got %q", cmd.Args["vfo"])
		}

		for _, text := range []string{"CACHE", "CACHE:FLUSH", "CACHE:TIMEOUT"} {
			if _, err := ParseCommand(text); !errors.Is(err, rigerr.ErrProtocol) {
				t.Errorf("%s: expected protocol error, got %v", text, err)
			}
		}
	})

	t.Run("MORSE Keeps Text", func(t *testing.T) {
		cmd, err := ParseCommand("MORSE:CQ DE N0CALL: K")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["text"] != "CQ DE N0CALL: K" {
			t.Errorf("Expected verbatim text, got %q", cmd.Args["text"])
		}

		cmd, _ = ParseCommand("morse:stop")
		if cmd.Args["action"] != MorseStop || cmd.Has("text") {
			t.Errorf("Expected stop action, got %v", cmd.Args)
		}
	})

	t.Run("PTT Command", func(t *testing.T) {
		cmd, _ := ParseCommand("PTT:on")
		on, err := cmd.Bool("state")
		if err != nil || !on {
			t.Errorf("Expected PTT on, got %v (%v)", on, err)
		}
		cmd, _ = ParseCommand("PTT:maybe")
		if _, err := cmd.Bool("state"); !errors.Is(err, rigerr.ErrInvalidArgument) {
			t.Errorf("Expected invalid argument, got %v", err)
		}
	})

	t.Run("Simple Commands", func(t *testing.T) {
		commands := []string{"QUIT", "PING", "STATUS", "VFO"}
		for _, cmdText := range commands {
			t.Run(cmdText, func(t *testing.T) {
				cmd, err := ParseCommand(cmdText)
				if err != nil {
					t.Fatalf("Expected no error for %s, got: %v", cmdText, err)
				}
				if cmd.Type != cmdText {
					t.Errorf("Expected type %s, got %s", cmdText, cmd.Type)
				}
				if len(cmd.Args) != 0 {
					t.Errorf("Expected no args for %s, got %d", cmdText, len(cmd.Args))
				}
			})
		}
	})

	t.Run("Case And Whitespace", func(t *testing.T) {
		cmd, err := ParseCommand("  ping  ")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdPing {
			t.Errorf("Expected type PING, got %s", cmd.Type)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		cmd, err := ParseCommand("TUNE:now")
		if err != nil {
			t.Fatalf("Expected no error for unknown command, got: %v", err)
		}
		if cmd.Type != "TUNE" || len(cmd.Args) != 0 {
			t.Errorf("Expected bare TUNE, got %s %v", cmd.Type, cmd.Args)
		}
	})

	t.Run("Empty Command", func(t *testing.T) {
		if _, err := ParseCommand("   "); !errors.Is(err, rigerr.ErrProtocol) {
			t.Errorf("Expected protocol error, got %v", err)
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("Success Response JSON", func(t *testing.T) {
		resp := NewSuccessResponse(map[string]interface{}{"freq": 14074000, "hit": true})

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != true {
			t.Error("Expected success true in JSON")
		}
		if _, ok := parsed["code"]; ok {
			t.Error("Expected no code on success")
		}
		if resp.Err() != nil {
			t.Errorf("Expected nil Err, got %v", resp.Err())
		}
	})

	t.Run("Failure Carries Code", func(t *testing.T) {
		resp := NewFailure(&rigerr.OverflowError{Rejected: 5, Free: 2})
		if resp.Code != rigerr.CodeOverflow {
			t.Errorf("Expected EDOM, got %s", resp.Code)
		}

		var decoded Response
		if err := json.Unmarshal([]byte(resp.String()), &decoded); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		err := decoded.Err()
		if !errors.Is(err, rigerr.ErrOverflow) {
			t.Errorf("Expected overflow after round trip, got %v", err)
		}
		if err.Error() != resp.Error {
			t.Errorf("Expected message %q, got %q", resp.Error, err.Error())
		}
	})

	t.Run("Error Response Defaults To Protocol", func(t *testing.T) {
		resp := NewErrorResponse("unknown command: TUNE")
		if !errors.Is(resp.Err(), rigerr.ErrProtocol) {
			t.Errorf("Expected protocol error, got %v", resp.Err())
		}
	})

	t.Run("IO Code Has No Sentinel", func(t *testing.T) {
		resp := NewFailure(errors.New("serial port vanished"))
		if resp.Code != rigerr.CodeIO {
			t.Errorf("Expected EIO, got %s", resp.Code)
		}
		if errors.Is(resp.Err(), rigerr.ErrBusy) {
			t.Error("EIO must not match a sentinel")
		}
	})
}
