package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/diplobot/internal/domain"
)

// Request names understood by the game server.
const (
	reqSignIn            = "sign_in"
	reqCreateGame        = "create_game"
	reqJoinGame          = "join_game"
	reqSynchronize       = "synchronize"
	reqOrderable         = "get_orderable_locations"
	reqAllPossibleOrders = "get_all_possible_orders"
	reqSetOrders         = "set_orders"
	reqSetWaitFlag       = "set_wait_flag"
	reqSendMessage       = "send_game_message"
	reqRecentMessages    = "get_recent_messages"
	reqLeaveGame         = "leave_game"
)

const (
	respOK    = "ok"
	respData  = "data"
	respError = "error"
)

// request is an outbound frame.
type request struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Token     string `json:"token,omitempty"`
	GameID    string `json:"game_id,omitempty"`
	GameRole  string `json:"game_role,omitempty"`
	Params    any    `json:"params,omitempty"`
}

// inbound is either a response (RequestID set) or a notification
// (NotificationID set).
type inbound struct {
	RequestID      string          `json:"request_id,omitempty"`
	NotificationID string          `json:"notification_id,omitempty"`
	Name           string          `json:"name"`
	GameID         string          `json:"game_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// ServerError is an error response from the game server. The server has
// already rejected the request, so retrying it cannot help.
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected %s: %s", e.Request, e.Message)
}

func (e *ServerError) Unwrap() error { return domain.ErrValidation }

type signInParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signInData struct {
	Token string `json:"token"`
}

type createGameParams struct {
	MapName   string   `json:"map_name"`
	Rules     []string `json:"rules"`
	PowerName string   `json:"power_name"`
	NControls int      `json:"n_controls"`
}

type joinGameParams struct {
	PowerName string `json:"power_name"`
}

type gameData struct {
	GameID string `json:"game_id"`
}

type powerParams struct {
	PowerName string `json:"power_name"`
}

type setOrdersParams struct {
	PowerName string   `json:"power_name"`
	Orders    []string `json:"orders"`
}

type setWaitParams struct {
	PowerName string `json:"power_name"`
	Wait      bool   `json:"wait"`
}

type sendMessageParams struct {
	Message domain.Message `json:"message"`
}

type recentMessagesParams struct {
	Phase string `json:"phase,omitempty"`
	Limit int    `json:"limit"`
}

type phaseUpdateData struct {
	Phase domain.Phase `json:"phase"`
}

type statusUpdateData struct {
	Status string `json:"status"`
}

type messageReceivedData struct {
	Message domain.Message `json:"message"`
}

type powersControllersData struct {
	Powers map[string]string `json:"powers"`
}

// decodeEvent converts a notification frame into an Event.
func decodeEvent(f inbound) (Event, error) {
	ev := Event{Kind: EventKind(f.Name)}
	switch ev.Kind {
	case EventPhaseUpdate, EventGameProcessed:
		var d phaseUpdateData
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return Event{}, fmt.Errorf("decode %s: %w", f.Name, err)
			}
		}
		ev.Phase = d.Phase
	case EventStatusUpdate:
		var d statusUpdateData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		ev.Status = d.Status
	case EventMessageReceived:
		var d messageReceivedData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		msg := d.Message
		ev.Message = &msg
		ev.Phase = msg.Phase
	case EventPowersControllers:
		var d powersControllersData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		ev.Controllers = d.Powers
	default:
		return Event{}, fmt.Errorf("unknown notification %q", f.Name)
	}
	return ev, nil
}
