package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"forkful/internal/daemon"
	"forkful/internal/extraction"
	"forkful/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown func()
	wg       sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. shutdown is
// invoked when a client requests daemon stop; it should end the process
// lifecycle the same way a signal would.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, shutdown func()) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	srv := &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpc.NewServer(),
		ctx:       serverCtx,
		cancel:    cancel,
		shutdown:  shutdown,
	}
	svc := &service{daemon: d, logger: logger, ctx: serverCtx, shutdown: shutdown}
	if err := srv.rpcServer.RegisterName("Forkful", svc); err != nil {
		listener.Close()
		cancel()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return srv, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return logging.WithComponent(s.logger, "ipc")
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	jobID, err := s.daemon.Submit(s.ctx, daemon.SubmitOptions{
		SourceType: extraction.SourceType(req.SourceType),
		URL:        req.URL,
		Text:       req.Text,
		Title:      req.Title,
	})
	if err != nil {
		return err
	}
	resp.JobID = jobID
	s.log().Info("submission accepted",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "job_submitted"))
	return nil
}

func (s *service) JobList(_ JobListRequest, resp *JobListResponse) error {
	views := s.daemon.Jobs()
	resp.Jobs = make([]Job, 0, len(views))
	for _, view := range views {
		resp.Jobs = append(resp.Jobs, FromJobView(view))
	}
	return nil
}

func (s *service) JobShow(req JobRequest, resp *JobResponse) error {
	view, ok := s.daemon.Job(req.JobID)
	if !ok {
		return fmt.Errorf("no session for job %s", req.JobID)
	}
	resp.Job = FromJobView(view)
	return nil
}

func (s *service) JobMinimize(req JobRequest, resp *AckResponse) error {
	if err := s.daemon.MinimizeJob(req.JobID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) JobDismiss(req JobRequest, resp *AckResponse) error {
	if err := s.daemon.DismissJob(req.JobID); err != nil {
		return err
	}
	resp.OK = true
	s.log().Info("job dismissed via IPC",
		logging.String(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldEventType, "job_dismissed"))
	return nil
}

func (s *service) JobCancel(req JobRequest, resp *AckResponse) error {
	if err := s.daemon.CancelJob(s.ctx, req.JobID); err != nil {
		return err
	}
	resp.OK = true
	s.log().Info("job cancelled via IPC",
		logging.String(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldEventType, "job_cancelled"))
	return nil
}

func (s *service) JobRetry(req JobRequest, resp *AckResponse) error {
	if err := s.daemon.RetryJob(req.JobID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) RecipeSave(req RecipeSaveRequest, resp *RecipeSaveResponse) error {
	saved, err := s.daemon.SaveRecipe(s.ctx, req.JobID, req.IsPublic)
	if err != nil {
		return err
	}
	resp.RecipeID = saved.RecipeID
	resp.CollectionSlug = saved.CollectionSlug
	return nil
}

func (s *service) RecipeDiscard(req JobRequest, resp *AckResponse) error {
	if err := s.daemon.DiscardRecipe(s.ctx, req.JobID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) RecipeFavorite(req RecipeFavoriteRequest, resp *AckResponse) error {
	if err := s.daemon.FavoriteRecipe(s.ctx, req.RecipeID, req.Favorite); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) RecipeCooked(req RecipeRequest, resp *AckResponse) error {
	if err := s.daemon.CookedRecipe(s.ctx, req.RecipeID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.PID = status.PID
	resp.UptimeSeconds = status.UptimeSeconds
	resp.ActiveSessions = status.ActiveSessions
	resp.MinimizedSessions = status.MinimizedSessions
	resp.SocketPath = status.SocketPath
	resp.CachePath = status.CachePath
	resp.LockPath = status.LockFilePath
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.shutdown != nil {
		go s.shutdown()
	}
	resp.Stopped = true
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
