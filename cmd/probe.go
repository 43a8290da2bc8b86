package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/logging"
	"github.com/BioHazard786/callrelay/internal/peer"
	"github.com/BioHazard786/callrelay/internal/signaling"
	"github.com/BioHazard786/callrelay/internal/ui"
)

var (
	flagServer   string
	flagRoom     string
	flagUser     string
	flagRole     string
	flagOffer    bool
	flagWatch    bool
	flagTimeout  time.Duration
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Join a room and exercise the relay",
	Long: `Join a room on the relay, list its members and stay until interrupted.

Without --offer the probe answers any offer addressed to it. With --offer it
negotiates a WebRTC peer connection with every other member, exchanges a hello
over a data channel and reports the round trip.

Examples:
  callrelay probe --role patient
  callrelay probe --room K7QX2M --user dr-lee --role doctor --offer
  callrelay probe --room K7QX2M --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			ServerURL:  flagServer,
			STUNServer: flagSTUN,
			TURNServer: flagTURN,
			TURNUser:   flagTURNUser,
			TURNPass:   flagTURNPass,
			ForceRelay: flagRelay,
		})
		if err != nil {
			return err
		}
		if cfg.Client.ForceRelay && cfg.Client.GetTURNServers() == nil {
			return fmt.Errorf("cannot force relay mode without TURN server configured")
		}

		// Probe output goes to the terminal; keep logs quiet unless asked.
		level := cfg.Log.Level
		if level == config.DefaultLogLevel {
			level = "error"
		}
		logger := logging.Init(level, cfg.Log.Format)

		return runProbe(cmd.Context(), cfg, logger)
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVarP(&flagServer, "server", "s", "", "relay websocket URL (env RELAY_SERVER)")
	f.StringVarP(&flagRoom, "room", "r", "", "room to join (default: a new 6-character code)")
	f.StringVarP(&flagUser, "user", "u", "", "user id (default: probe-<random>)")
	f.StringVar(&flagRole, "role", "probe", "user role announced to the room")
	f.BoolVar(&flagOffer, "offer", false, "negotiate a peer connection with every other member")
	f.BoolVarP(&flagWatch, "watch", "w", false, "show relay events live")
	f.DurationVarP(&flagTimeout, "timeout", "t", 30*time.Second, "connect, join and negotiation timeout")
	f.StringVar(&flagSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	f.StringVar(&flagTURN, "turn", "", "TURN server URL (env TURN_SERVER)")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	f.BoolVar(&flagRelay, "relay", false, "force TURN relay candidates")
	rootCmd.AddCommand(probeCmd)
}

// probeSession is one probe's membership in a room.
type probeSession struct {
	self    signaling.Member
	client  *client.Client
	handler *client.Handler
	neg     *peer.Negotiator
	view    *ui.EventView
	logger  *slog.Logger

	// offers counts negotiations started; pending holds the users whose
	// hello echo has not arrived yet.
	offers  int
	pending map[string]bool
}

func runProbe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	roomID := flagRoom
	if roomID == "" {
		code, err := signaling.NewRoomCode()
		if err != nil {
			return err
		}
		roomID = code
	}
	userID := flagUser
	if userID == "" {
		userID = "probe-" + uuid.NewString()[:8]
	}

	setupCtx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()

	stop := ui.RunConnectionSpinner("Connecting to relay...")
	c := client.New(cfg.Client.ServerURL, logger)
	err := c.Connect(setupCtx)
	stop()
	if err != nil {
		return err
	}
	defer c.Close()

	s := &probeSession{
		self:    signaling.Member{UserID: userID, UserRole: flagRole},
		client:  c,
		handler: client.NewHandler(c),
		logger:  logger,
		pending: make(map[string]bool),
	}
	if flagWatch {
		s.view = ui.NewEventView(fmt.Sprintf("%s Room %s as %s", ui.IconRoom, roomID, userID))
		s.handler.Tap(s.trace)
	}
	go s.handler.Start()
	defer s.handler.Close()

	greeting, err := s.handler.WaitConnected(setupCtx)
	if err != nil {
		return err
	}
	ui.PrintSuccess(greeting)

	if err := c.JoinRoom(roomID, userID, flagRole); err != nil {
		return err
	}
	joined, err := s.handler.WaitJoined(setupCtx)
	if err != nil {
		return err
	}

	fmt.Println(ui.RoomCard(joined.RoomID, len(joined.Members)))
	fmt.Println(ui.MembersView(joined.Members, userID))

	s.neg = peer.NewNegotiator(&cfg.Client, c, s.self, logger)
	defer s.neg.Close()

	if flagOffer {
		for _, m := range joined.Members {
			s.offer(m.UserID)
		}
	}

	if s.view != nil {
		s.view.Start()
		defer s.view.Stop()
	}

	err = s.loop(ctx)
	if lerr := c.LeaveRoom(); lerr != nil {
		logger.Debug("leave room", "error", lerr)
	}
	return err
}

func (s *probeSession) offer(userID string) {
	if userID == s.self.UserID {
		return
	}
	if err := s.neg.Offer(userID); err != nil {
		s.report(ui.EventError, fmt.Sprintf("offer to %s failed: %v", userID, err))
		return
	}
	s.offers++
	s.pending[userID] = true
	s.report(ui.EventInfo, fmt.Sprintf("offer sent to %s", userID))
}

// loop handles relay events until the context ends, the view is closed, or,
// when offering without --watch, every negotiation has finished.
func (s *probeSession) loop(ctx context.Context) error {
	var quit <-chan struct{}
	if s.view != nil {
		quit = s.view.Quit()
	}

	var deadline <-chan time.Time
	if flagOffer && s.view == nil {
		timer := time.NewTimer(flagTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if flagOffer && s.view == nil && s.offers > 0 && len(s.pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case <-quit:
			return nil

		case <-deadline:
			return client.WrapError("negotiate", client.ErrTimeout,
				fmt.Sprintf("%d peer(s) did not answer", len(s.pending)))

		case m, ok := <-s.handler.PeerJoined:
			if !ok {
				return client.NewError("relay", client.ErrClosed)
			}
			s.report(ui.EventJoin, fmt.Sprintf("%s joined as %s", m.UserID, roleOrDash(m.UserRole)))
			if flagOffer {
				s.offer(m.UserID)
			}

		case id, ok := <-s.handler.PeerLeft:
			if !ok {
				return client.NewError("relay", client.ErrClosed)
			}
			s.report(ui.EventLeave, fmt.Sprintf("%s left", id))
			s.neg.Remove(id)
			delete(s.pending, id)

		case msg, ok := <-s.handler.Signal:
			if !ok {
				return client.NewError("relay", client.ErrClosed)
			}
			if err := s.neg.HandleSignal(msg); err != nil {
				s.report(ui.EventError, err.Error())
			}

		case text, ok := <-s.handler.Error:
			if !ok {
				return client.NewError("relay", client.ErrClosed)
			}
			s.report(ui.EventError, "relay: "+text)

		case r, ok := <-s.neg.Results():
			if !ok {
				return nil
			}
			s.result(r)
		}
	}
}

func (s *probeSession) result(r peer.Result) {
	switch {
	case r.Err != nil:
		s.report(ui.EventError, r.Err.Error())
		delete(s.pending, r.UserID)
	case r.RTT > 0:
		s.report(ui.EventSuccess, fmt.Sprintf("%s %s answered, hello round trip %s",
			ui.IconTime, r.UserID, r.RTT.Round(time.Microsecond)))
		delete(s.pending, r.UserID)
	default:
		s.report(ui.EventSuccess, fmt.Sprintf("hello from %s (%s) echoed", r.UserID, roleOrDash(r.Role)))
	}
}

// trace mirrors signals into the live view.
func (s *probeSession) trace(msg *client.Message) {
	if !msg.IsSignal() {
		return
	}
	s.view.Push(ui.Event{Kind: ui.EventSignal, Text: fmt.Sprintf("%s from %s", msg.Type, msg.SenderID)})
}

func (s *probeSession) report(kind ui.EventKind, text string) {
	if s.view != nil {
		s.view.Push(ui.Event{Kind: kind, Text: text})
		return
	}

	switch kind {
	case ui.EventError:
		ui.PrintError(text)
	case ui.EventSuccess:
		ui.PrintSuccess(text)
	default:
		ui.PrintInfo(text)
	}
}

func roleOrDash(role string) string {
	if role == "" {
		return "-"
	}
	return role
}
