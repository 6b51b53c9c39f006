package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit starts a new extraction job and returns its id.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Forkful.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns every tracked session.
func (c *Client) JobList() (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Forkful.JobList", JobListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobShow returns one session by job id.
func (c *Client) JobShow(jobID string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.client.Call("Forkful.JobShow", JobRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobMinimize detaches a job from the foreground.
func (c *Client) JobMinimize(jobID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.JobMinimize", JobRequest{JobID: jobID}, &resp)
}

// JobDismiss removes a session permanently.
func (c *Client) JobDismiss(jobID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.JobDismiss", JobRequest{JobID: jobID}, &resp)
}

// JobCancel requests backend cancellation.
func (c *Client) JobCancel(jobID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.JobCancel", JobRequest{JobID: jobID}, &resp)
}

// JobRetry restarts a session's transports after a connection error.
func (c *Client) JobRetry(jobID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.JobRetry", JobRequest{JobID: jobID}, &resp)
}

// RecipeSave publishes the recipe a finished job produced.
func (c *Client) RecipeSave(jobID string, isPublic bool) (*RecipeSaveResponse, error) {
	var resp RecipeSaveResponse
	req := RecipeSaveRequest{JobID: jobID, IsPublic: isPublic}
	if err := c.client.Call("Forkful.RecipeSave", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecipeDiscard drops the draft a finished job produced.
func (c *Client) RecipeDiscard(jobID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.RecipeDiscard", JobRequest{JobID: jobID}, &resp)
}

// RecipeFavorite toggles a recipe's favorite flag.
func (c *Client) RecipeFavorite(recipeID string, favorite bool) error {
	var resp AckResponse
	req := RecipeFavoriteRequest{RecipeID: recipeID, Favorite: favorite}
	return c.client.Call("Forkful.RecipeFavorite", req, &resp)
}

// RecipeCooked records a cooking event for a recipe.
func (c *Client) RecipeCooked(recipeID string) error {
	var resp AckResponse
	return c.client.Call("Forkful.RecipeCooked", RecipeRequest{RecipeID: recipeID}, &resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Forkful.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests daemon shutdown.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Forkful.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Forkful.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
