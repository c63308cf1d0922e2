package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// DialConfig describes how to reach the server and which game to play.
type DialConfig struct {
	Host string
	Port int
	// URL overrides Host and Port when set.
	URL      string
	Username string
	Password string
	Power    string
	// GameID joins an existing game; empty creates a new standard game.
	GameID string
	Logger *slog.Logger
}

func (c DialConfig) endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	return "ws://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/"
}

// Client is a websocket connection to the game server, signed in and bound
// to one game as one power.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events *eventQueue

	token  string
	gameID string
	power  string

	mu      sync.Mutex
	pending map[string]chan inbound
	done    chan struct{}
	err     error
	once    sync.Once
	cancel  context.CancelFunc
}

// Dial connects, signs in and joins (or creates) the game.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	power := domain.NormalizePower(cfg.Power)
	if power == "" {
		return nil, fmt.Errorf("%w: power is required", domain.ErrValidation)
	}

	conn, _, err := websocket.Dial(ctx, cfg.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransportConnection, cfg.endpoint(), err)
	}
	conn.SetReadLimit(4 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		logger:  logger.With("power", power),
		power:   power,
		pending: make(map[string]chan inbound),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	c.events = newEventQueue(c.logger)
	go c.readLoop(readCtx)

	if err := c.signIn(ctx, cfg.Username, cfg.Password); err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.GameID != "" {
		err = c.joinGame(ctx, cfg.GameID)
	} else {
		err = c.createGame(ctx)
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) signIn(ctx context.Context, username, password string) error {
	var data signInData
	if err := c.call(ctx, reqSignIn, signInParams{Username: username, Password: password}, &data); err != nil {
		return fmt.Errorf("sign in as %s: %w", username, err)
	}
	if data.Token == "" {
		return fmt.Errorf("sign in as %s: %w: empty token", username, domain.ErrValidation)
	}
	c.token = data.Token
	c.logger.Info("Signed in", "username", username)
	return nil
}

func (c *Client) joinGame(ctx context.Context, gameID string) error {
	c.gameID = gameID
	if err := c.call(ctx, reqJoinGame, joinGameParams{PowerName: c.power}, nil); err != nil {
		return fmt.Errorf("join game %s: %w", gameID, err)
	}
	c.logger.Info("Joined game", "game_id", gameID)
	return nil
}

func (c *Client) createGame(ctx context.Context) error {
	var data gameData
	params := createGameParams{
		MapName:   "standard",
		Rules:     []string{"IGNORE_ERRORS", "POWER_CHOICE"},
		PowerName: c.power,
		NControls: 7,
	}
	if err := c.call(ctx, reqCreateGame, params, &data); err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	if data.GameID == "" {
		return fmt.Errorf("create game: %w: no game id returned", domain.ErrValidation)
	}
	c.gameID = data.GameID
	c.logger.Info("Created game", "game_id", data.GameID)
	return nil
}

// GameID returns the joined game.
func (c *Client) GameID() string { return c.gameID }

// Power returns the controlled power.
func (c *Client) Power() string { return c.power }

// Events returns the push notification stream.
func (c *Client) Events() <-chan Event { return c.events.out }

func (c *Client) Synchronize(ctx context.Context) (GameState, error) {
	var st GameState
	if err := c.call(ctx, reqSynchronize, nil, &st); err != nil {
		return GameState{}, err
	}
	if st.GameID == "" {
		st.GameID = c.gameID
	}
	return st, nil
}

func (c *Client) OrderableLocations(ctx context.Context) ([]string, error) {
	var locs []string
	if err := c.call(ctx, reqOrderable, powerParams{PowerName: c.power}, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (c *Client) AllPossibleOrders(ctx context.Context) (map[string][]string, error) {
	var orders map[string][]string
	if err := c.call(ctx, reqAllPossibleOrders, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) SetOrders(ctx context.Context, orders []string) error {
	if orders == nil {
		orders = []string{}
	}
	return c.call(ctx, reqSetOrders, setOrdersParams{PowerName: c.power, Orders: orders}, nil)
}

func (c *Client) SetWait(ctx context.Context, wait bool) error {
	return c.call(ctx, reqSetWaitFlag, setWaitParams{PowerName: c.power, Wait: wait}, nil)
}

func (c *Client) SendMessage(ctx context.Context, msg domain.Message) error {
	return c.call(ctx, reqSendMessage, sendMessageParams{Message: msg}, nil)
}

func (c *Client) RecentMessages(ctx context.Context, phase domain.Phase, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.call(ctx, reqRecentMessages, recentMessagesParams{Phase: string(phase), Limit: limit}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Leave leaves the game without closing the connection.
func (c *Client) Leave(ctx context.Context) error {
	return c.call(ctx, reqLeaveGame, nil, nil)
}

// Close closes the connection and the event stream. It is safe to call more
// than once.
func (c *Client) Close() error {
	var closeErr error
	c.once.Do(func() {
		closeErr = c.conn.Close(websocket.StatusNormalClosure, "bot shutting down")
		c.shutdown(fmt.Errorf("%w: connection closed", domain.ErrTransportConnection))
	})
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && websocket.CloseStatus(closeErr) == -1 {
		return fmt.Errorf("close websocket: %w", closeErr)
	}
	return nil
}

// call sends one request and decodes the response data into out.
func (c *Client) call(ctx context.Context, name string, params any, out any) error {
	id := uuid.NewString()
	ch := make(chan inbound, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := request{
		RequestID: id,
		Name:      name,
		Token:     c.token,
		GameID:    c.gameID,
		Params:    params,
	}
	if c.gameID != "" {
		req.GameRole = c.power
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: write %s: %w", domain.ErrTransportConnection, name, err)
	}

	select {
	case resp := <-ch:
		return decodeResponse(name, resp, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

func decodeResponse(name string, resp inbound, out any) error {
	switch resp.Name {
	case respError:
		return &ServerError{Request: name, Message: resp.Message}
	case respOK, respData:
		if out == nil || len(resp.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("%w: decode %s response: %w", domain.ErrValidation, name, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected response %q to %s", domain.ErrValidation, resp.Name, name)
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var f inbound
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Info("Game server closed the connection", "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				c.logger.Warn("Websocket read error", "error", err)
			}
			c.shutdown(fmt.Errorf("%w: %w", domain.ErrTransportConnection, err))
			return
		}

		if f.NotificationID != "" {
			ev, err := decodeEvent(f)
			if err != nil {
				c.logger.Warn("Ignoring notification", "name", f.Name, "error", err)
				continue
			}
			c.events.Push(ev)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Response for unknown request", "request_id", f.RequestID, "name", f.Name)
			continue
		}
		ch <- f
	}
}

// shutdown fails pending and future calls with err and ends the event stream.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		close(c.done)
	}
	c.mu.Unlock()
	c.cancel()
	c.events.Close()
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
