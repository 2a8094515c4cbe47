package switchctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Commander is the data-plane-neutral command surface the rest of the system
// depends on. [Client] implements it against a live switch; tests supply the
// mock in the mock subpackage.
type Commander interface {
	// Originate dials a new leg. Returns the new channel UUID.
	Originate(ctx context.Context, req OriginateRequest) (string, error)

	// Bridge connects two channels.
	Bridge(ctx context.Context, aUUID, bUUID string) error

	// Unbridge separates a bridged channel.
	Unbridge(ctx context.Context, uuid string) error

	// Transfer performs a blind transfer of a channel to a dialplan target.
	Transfer(ctx context.Context, uuid, target string) error

	// Hold and Unhold toggle music-on-hold for a channel.
	Hold(ctx context.Context, uuid string) error
	Unhold(ctx context.Context, uuid string) error

	// Hangup terminates a channel with a cause code.
	Hangup(ctx context.Context, uuid, cause string) error

	// ConferenceEnter moves a channel into a conference room.
	ConferenceEnter(ctx context.Context, conference, uuid string, opts ConferenceOptions) error

	// ConferenceKick removes a member from a conference.
	ConferenceKick(ctx context.Context, conference, uuid string) error

	// ConferenceMute and ConferenceUnmute control a member's audio.
	ConferenceMute(ctx context.Context, conference, uuid string) error
	ConferenceUnmute(ctx context.Context, conference, uuid string) error

	// ConferenceList returns the current members of a conference.
	ConferenceList(ctx context.Context, conference string) ([]ConferenceMember, error)

	// StartMediaStream attaches a bidirectional media stream between the
	// channel and the given URL at the given sample rate.
	StartMediaStream(ctx context.Context, uuid, url string, sampleRate int) error

	// StopMediaStream detaches the media stream from a channel.
	StopMediaStream(ctx context.Context, uuid string) error

	// QueryRegistration reports whether a destination address is registered.
	QueryRegistration(ctx context.Context, address string) (bool, error)

	// ExecuteOnUUID runs an inline dialplan application on a channel.
	ExecuteOnUUID(ctx context.Context, uuid, app, args string) error
}

var _ Commander = (*Client)(nil)

// OriginateRequest describes a new outbound leg.
type OriginateRequest struct {
	// Destination is the dial string (extension, ring group, external number).
	Destination string

	// CallerIDNumber and CallerIDName are presented to the destination.
	CallerIDNumber string
	CallerIDName   string

	// Timeout is the ring timeout in seconds. Zero uses the switch default.
	Timeout int

	// Conference, when set, places the answered leg directly into the named
	// conference instead of parking it.
	Conference string

	// Variables are channel variables set before dialing.
	Variables map[string]string
}

// ConferenceOptions control how a channel enters a conference.
type ConferenceOptions struct {
	// Muted enters the member with its audio muted.
	Muted bool

	// Moderator grants conference moderator flags.
	Moderator bool
}

// ConferenceMember is one row of a conference list reply.
type ConferenceMember struct {
	UUID   string
	Caller string
	Muted  bool
}

// Originate implements [Commander].
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	args := []string{req.Destination}
	if req.Conference != "" {
		args = append(args, "conference="+req.Conference)
	}
	if req.Timeout > 0 {
		args = append(args, "timeout="+strconv.Itoa(req.Timeout))
	}
	if req.CallerIDNumber != "" {
		args = append(args, "cid_num="+req.CallerIDNumber)
	}
	if req.CallerIDName != "" {
		args = append(args, "cid_name="+quoteArg(req.CallerIDName))
	}
	for k, v := range req.Variables {
		args = append(args, k+"="+quoteArg(v))
	}

	out, err := c.command(ctx, "originate", args...)
	if err != nil {
		return "", err
	}
	uuid := strings.TrimSpace(out)
	if uuid == "" {
		return "", fmt.Errorf("switchctl: originate returned no uuid")
	}
	return uuid, nil
}

// Bridge implements [Commander].
func (c *Client) Bridge(ctx context.Context, aUUID, bUUID string) error {
	_, err := c.command(ctx, "bridge", aUUID, bUUID)
	return err
}

// Unbridge implements [Commander].
func (c *Client) Unbridge(ctx context.Context, uuid string) error {
	_, err := c.command(ctx, "unbridge", uuid)
	return err
}

// Transfer implements [Commander].
func (c *Client) Transfer(ctx context.Context, uuid, target string) error {
	_, err := c.command(ctx, "transfer", uuid, target)
	return err
}

// Hold implements [Commander].
func (c *Client) Hold(ctx context.Context, uuid string) error {
	_, err := c.command(ctx, "hold", uuid)
	return err
}

// Unhold implements [Commander].
func (c *Client) Unhold(ctx context.Context, uuid string) error {
	_, err := c.command(ctx, "unhold", uuid)
	return err
}

// Hangup implements [Commander].
func (c *Client) Hangup(ctx context.Context, uuid, cause string) error {
	if cause == "" {
		cause = "NORMAL_CLEARING"
	}
	_, err := c.command(ctx, "hangup", uuid, cause)
	return err
}

// ConferenceEnter implements [Commander].
func (c *Client) ConferenceEnter(ctx context.Context, conference, uuid string, opts ConferenceOptions) error {
	args := []string{conference, "enter", uuid}
	if opts.Muted {
		args = append(args, "muted")
	}
	if opts.Moderator {
		args = append(args, "moderator")
	}
	_, err := c.command(ctx, "conference", args...)
	return err
}

// ConferenceKick implements [Commander].
func (c *Client) ConferenceKick(ctx context.Context, conference, uuid string) error {
	_, err := c.command(ctx, "conference", conference, "kick", uuid)
	return err
}

// ConferenceMute implements [Commander].
func (c *Client) ConferenceMute(ctx context.Context, conference, uuid string) error {
	_, err := c.command(ctx, "conference", conference, "mute", uuid)
	return err
}

// ConferenceUnmute implements [Commander].
func (c *Client) ConferenceUnmute(ctx context.Context, conference, uuid string) error {
	_, err := c.command(ctx, "conference", conference, "unmute", uuid)
	return err
}

// ConferenceList implements [Commander]. The reply carries one member per
// line: "<uuid>;<caller>;<muted|unmuted>".
func (c *Client) ConferenceList(ctx context.Context, conference string) ([]ConferenceMember, error) {
	out, err := c.command(ctx, "conference", conference, "list")
	if err != nil {
		return nil, err
	}
	var members []ConferenceMember
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) < 3 {
			continue
		}
		members = append(members, ConferenceMember{
			UUID:   parts[0],
			Caller: parts[1],
			Muted:  parts[2] == "muted",
		})
	}
	return members, nil
}

// StartMediaStream implements [Commander].
func (c *Client) StartMediaStream(ctx context.Context, uuid, url string, sampleRate int) error {
	_, err := c.command(ctx, "start-media-stream", uuid, url, strconv.Itoa(sampleRate))
	return err
}

// StopMediaStream implements [Commander].
func (c *Client) StopMediaStream(ctx context.Context, uuid string) error {
	_, err := c.command(ctx, "stop-media-stream", uuid)
	return err
}

// QueryRegistration implements [Commander].
func (c *Client) QueryRegistration(ctx context.Context, address string) (bool, error) {
	out, err := c.command(ctx, "registration-query", address)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "registered"), nil
}

// ExecuteOnUUID implements [Commander].
func (c *Client) ExecuteOnUUID(ctx context.Context, uuid, app, args string) error {
	cmdArgs := []string{uuid, app}
	if args != "" {
		cmdArgs = append(cmdArgs, quoteArg(args))
	}
	_, err := c.command(ctx, "execute-on-uuid", cmdArgs...)
	return err
}

// quoteArg wraps an argument containing spaces in single quotes.
func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t") {
		return "'" + s + "'"
	}
	return s
}
