package driver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	apxerrors "github.com/apxor/browserpool/errors"
	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/models/scraperesult"
)

/*
ContainerDriver is the Docker-backed BrowserDriver (spec.md §4.6,
driver_backend: docker). One standalone-chromium container stands in for
the "browser process" invariant: every NewContext call opens an isolated
chromedp tab against that container's remote debugging port, so contexts
still share a single underlying browser the way Launch/NewContext promise.
*/

const chromiumImage = "seleniarm/standalone-chromium:latest"
const debugPort = "9222/tcp"

type ContainerDriver struct {
	docker *client.Client

	mu          sync.Mutex
	containerID string
	debugURL    string
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func NewContainerDriver() *ContainerDriver {
	return &ContainerDriver{}
}

func (d *ContainerDriver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.containerID != "" {
		return nil
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	config := &container.Config{
		Image: chromiumImage,
		ExposedPorts: nat.PortSet{
			nat.Port(debugPort): {},
		},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:    2 * 1024 * 1024 * 1024,
			CPUShares: 1024,
		},
		AutoRemove: true,
		PortBindings: nat.PortMap{
			nat.Port(debugPort): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}

	resp, err := docker.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating container: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("starting container: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	inspect, err := docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		destroyContainer(docker, resp.ID)
		return fmt.Errorf("inspecting container: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}
	bindings := inspect.NetworkSettings.Ports[nat.Port(debugPort)]
	if len(bindings) == 0 {
		destroyContainer(docker, resp.ID)
		return fmt.Errorf("no port binding for remote debugging: %w", apxerrors.ErrDriverError)
	}
	debugURL := fmt.Sprintf("http://localhost:%s", bindings[0].HostPort)

	if err := waitForDebugger(debugURL); err != nil {
		destroyContainer(docker, resp.ID)
		return fmt.Errorf("waiting for chromium: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)

	d.docker = docker
	d.containerID = resp.ID
	d.debugURL = debugURL
	d.allocCtx = allocCtx
	d.allocCancel = allocCancel

	logger.Info("container driver launched", zap.String("container_id", resp.ID[:12]), zap.String("debug_url", debugURL))
	return nil
}

func waitForDebugger(debugURL string) error {
	for i := 0; i < 30; i++ {
		resp, err := http.Get(debugURL + "/json/version")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("timeout waiting for remote debugging endpoint")
}

func destroyContainer(docker *client.Client, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	docker.ContainerStop(ctx, id, container.StopOptions{})
	docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (d *ContainerDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	if d.docker != nil && d.containerID != "" {
		destroyContainer(d.docker, d.containerID)
		d.docker.Close()
	}
	d.containerID = ""
	logger.Info("container driver shut down")
	return nil
}

type containerHandle struct {
	id          string
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	storagePath string
}

func (h *containerHandle) ID() string { return h.id }

func (d *ContainerDriver) NewContext(ctx context.Context, params NewContextParams) (Handle, error) {
	d.mu.Lock()
	allocCtx := d.allocCtx
	d.mu.Unlock()

	if allocCtx == nil {
		return nil, apxerrors.ErrTargetClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		if isTargetClosed(err) {
			return nil, apxerrors.ErrTargetClosed
		}
		return nil, fmt.Errorf("opening tab: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	return &containerHandle{
		id:          fmt.Sprintf("ctx-%d", time.Now().UnixNano()),
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		storagePath: params.StoragePath,
	}, nil
}

func (d *ContainerDriver) CloseContext(ctx context.Context, h Handle) error {
	ch, ok := h.(*containerHandle)
	if !ok || ch == nil {
		return nil
	}
	ch.tabCancel()
	return nil
}

func (d *ContainerDriver) Execute(ctx context.Context, h Handle, req *scraperequest.Request) (*scraperesult.Result, error) {
	ch, ok := h.(*containerHandle)
	if !ok || ch == nil {
		return nil, apxerrors.ErrDriverError
	}

	runCtx, cancel := context.WithTimeout(ch.tabCtx, executeDeadline(req))
	defer cancel()

	result := &scraperesult.Result{Success: true, URL: req.URL, ContextID: ch.id}
	// status is left nil: capturing the navigation response code would need
	// the network domain wired up, which this backend doesn't enable.
	var content string
	var shot []byte
	var scriptResult string

	actions := []chromedp.Action{
		chromedp.Navigate(req.URL),
	}
	switch req.WaitFor {
	case scraperequest.WaitNetworkIdle:
		actions = append(actions, chromedp.WaitReady("body"))
	default:
		actions = append(actions, chromedp.WaitVisible("body", chromedp.ByQuery))
	}
	if req.WantsContent() {
		actions = append(actions, chromedp.OuterHTML("html", &content, chromedp.ByQuery))
	}
	if req.Script != "" {
		actions = append(actions, chromedp.Evaluate(req.Script, &scriptResult))
	}
	if req.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&shot, 90))
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		if isTargetClosed(err) {
			return nil, apxerrors.ErrTargetClosed
		}
		if runCtx.Err() != nil || strings.Contains(err.Error(), "deadline") {
			return scraperesult.Failed(req.URL, ch.id, apxerrors.ErrScrapeTimeout), apxerrors.ErrScrapeTimeout
		}
		return scraperesult.Failed(req.URL, ch.id, apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())), apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())
	}

	if req.WantsContent() {
		result.Content = &content
	}
	if req.Script != "" {
		result.ScriptResult = scriptResult
	}
	if req.Screenshot {
		encoded := encodeBase64(shot)
		result.Screenshot = &encoded
	}

	return result, nil
}
