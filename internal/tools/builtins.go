package tools

import (
	"context"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/callstate"
)

// RegisterBuiltins adds the standard secretary tool set to reg.
func RegisterBuiltins(reg *Registry) error {
	builtins := []Tool{
		requestHandoff(),
		takeMessage(),
		acceptTransfer(),
		rejectTransfer(),
		holdCall(),
		resumeCall(),
		endCall(),
		getBusinessInfo(),
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// SideChannelTools returns the two tools available to a transfer
// announcement session: the attendant can only accept or reject.
func SideChannelTools() []Tool {
	return []Tool{acceptTransfer(), rejectTransfer()}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func requestHandoff() Tool {
	return Tool{
		Name:        "request_handoff",
		Description: "Transfers the caller to a human colleague or department. Use when the caller asks for a person or the request is beyond your remit.",
		Category:    CategoryTransfer,
		Parameters: objectSchema(map[string]any{
			"destination": map[string]any{
				"type":        "string",
				"description": "Name of the person or department to transfer to.",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Short summary of why the caller wants the transfer.",
			},
		}, "destination"),
		Handler: func(_ context.Context, call *CallContext, args map[string]any) Result {
			destination, err := requireString(args, "destination")
			if err != nil {
				return Fail("%v", err)
			}
			// A transfer in flight must not be restarted by the model.
			if call.State().IsTransferring() {
				return Fail("a transfer is already in progress")
			}
			call.Events.Publish(bus.Event{
				Kind:   bus.TransferRequested,
				CallID: call.CallID,
				Source: "tools",
				Payload: map[string]any{
					"destination": destination,
					"reason":      stringArg(args, "reason"),
				},
			})
			return Say("Tell the caller you are connecting them now and ask them to hold for a moment.")
		},
	}
}

func takeMessage() Tool {
	return Tool{
		Name:        "take_message",
		Description: "Records a message for the business. Use when nobody is available or the caller prefers to leave a message.",
		Category:    CategoryMessaging,
		Parameters: objectSchema(map[string]any{
			"caller_name": map[string]any{
				"type":        "string",
				"description": "Name of the caller.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "The message to pass on.",
			},
			"callback_number": map[string]any{
				"type":        "string",
				"description": "Phone number to call back, if the caller gave one.",
			},
		}, "caller_name", "message"),
		Handler: func(_ context.Context, call *CallContext, args map[string]any) Result {
			callerName, err := requireString(args, "caller_name")
			if err != nil {
				return Fail("%v", err)
			}
			message, err := requireString(args, "message")
			if err != nil {
				return Fail("%v", err)
			}
			data := map[string]any{
				"caller_name": callerName,
				"message":     message,
			}
			if cb := stringArg(args, "callback_number"); cb != "" {
				data["callback_number"] = cb
			}
			result := OK(data)
			result.Speak = "Confirm to the caller that the message has been taken and will be passed on."
			return result
		},
	}
}

func acceptTransfer() Tool {
	return Tool{
		Name:        "accept_transfer",
		Description: "Accepts the announced call and connects the caller.",
		Category:    CategoryTransfer,
		Parameters:  objectSchema(map[string]any{}),
		Handler: func(_ context.Context, call *CallContext, _ map[string]any) Result {
			call.Events.Publish(bus.Event{
				Kind:   bus.TransferAccepted,
				CallID: call.CallID,
				Source: "tools",
			})
			return Say("Tell the attendant you are connecting the caller now.")
		},
	}
}

func rejectTransfer() Tool {
	return Tool{
		Name:        "reject_transfer",
		Description: "Declines the announced call. The caller is offered an alternative.",
		Category:    CategoryTransfer,
		Parameters: objectSchema(map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the call cannot be taken right now.",
			},
		}),
		Handler: func(_ context.Context, call *CallContext, args map[string]any) Result {
			call.Events.Publish(bus.Event{
				Kind:   bus.TransferRejected,
				CallID: call.CallID,
				Source: "tools",
				Payload: map[string]any{
					"reason": stringArg(args, "reason"),
				},
			})
			return OK(nil)
		},
	}
}

func holdCall() Tool {
	return Tool{
		Name:        "hold_call",
		Description: "Puts the caller on hold with music. Use when you need a moment, e.g. while looking something up.",
		Category:    CategoryCallControl,
		Parameters:  objectSchema(map[string]any{}),
		Handler: func(_ context.Context, call *CallContext, _ map[string]any) Result {
			if !call.State().IsActive() {
				return Fail("the call cannot be put on hold right now")
			}
			call.Events.Publish(bus.Event{
				Kind:   bus.HoldStarted,
				CallID: call.CallID,
				Source: "tools",
			})
			return Say("Tell the caller you are putting them on hold for a moment.")
		},
	}
}

func resumeCall() Tool {
	return Tool{
		Name:        "resume_call",
		Description: "Takes the caller off hold and resumes the conversation.",
		Category:    CategoryCallControl,
		Parameters:  objectSchema(map[string]any{}),
		Handler: func(_ context.Context, call *CallContext, _ map[string]any) Result {
			if call.State() != callstate.OnHold {
				return Fail("the call is not on hold")
			}
			call.Events.Publish(bus.Event{
				Kind:   bus.HoldEnded,
				CallID: call.CallID,
				Source: "tools",
			})
			return Say("Thank the caller for holding and pick the conversation back up.")
		},
	}
}

func endCall() Tool {
	return Tool{
		Name:        "end_call",
		Description: "Ends the call politely after the conversation has concluded.",
		Category:    CategoryCallControl,
		Parameters: objectSchema(map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the call is ending (e.g. caller said goodbye).",
			},
		}),
		Handler: func(_ context.Context, call *CallContext, args map[string]any) Result {
			call.Events.Publish(bus.Event{
				Kind:   bus.CallEnding,
				CallID: call.CallID,
				Source: "tools",
				Payload: map[string]any{
					"reason": stringArg(args, "reason"),
				},
			})
			return Say("Say a short goodbye before the line closes.")
		},
	}
}

func getBusinessInfo() Tool {
	return Tool{
		Name:        "get_business_info",
		Description: "Looks up facts about the business such as address, opening hours or website.",
		Category:    CategoryInformation,
		Parameters: objectSchema(map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "The specific fact to look up. Omit to list everything known.",
			},
		}),
		Handler: func(_ context.Context, call *CallContext, args map[string]any) Result {
			info := call.Tenant.BusinessInfo
			if len(info) == 0 {
				return Fail("no business information is configured")
			}
			field := stringArg(args, "field")
			if field == "" {
				data := make(map[string]any, len(info))
				for k, v := range info {
					data[k] = v
				}
				return OK(data)
			}
			value, exists := info[field]
			if !exists {
				return Fail("no business information for %q", field)
			}
			return OK(map[string]any{field: value})
		},
	}
}
