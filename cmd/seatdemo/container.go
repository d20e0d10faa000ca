package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/dig"

	"github.com/glimte/afterlocks"
	"github.com/glimte/afterlocks/config"
	"github.com/glimte/afterlocks/internal/seats"
	"github.com/glimte/afterlocks/messaging"
)

// Container holds the wired demo services
type Container struct {
	client    *afterlocks.Client
	locked    *seats.LockedService
	messaging *seats.MessagingService
}

func (c *Container) Client() *afterlocks.Client                { return c.client }
func (c *Container) LockedService() *seats.LockedService       { return c.locked }
func (c *Container) MessagingService() *seats.MessagingService { return c.messaging }

// logOutput is a named writer type so dig does not confuse it with other writers
type logOutput struct{ io.Writer }

// newContainer builds every service from cfg. The client is started and the
// allocator subscribed before it returns; callers own Close.
func newContainer(ctx context.Context, cfg *config.Config, out io.Writer) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() logOutput { return logOutput{out} }); err != nil {
		return nil, err
	}
	if err := d.Provide(newClient); err != nil {
		return nil, err
	}
	if err := d.Provide(newAllocator); err != nil {
		return nil, err
	}
	if err := d.Provide(seats.NewLockedService); err != nil {
		return nil, err
	}
	if err := d.Provide(newMessagingService); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		client *afterlocks.Client,
		allocator *seats.Allocator,
		locked *seats.LockedService,
		svc *seats.MessagingService,
	) error {
		if err := startServices(ctx, client, allocator); err != nil {
			return err
		}
		result = &Container{client: client, locked: locked, messaging: svc}
		return nil
	})
	return result, err
}

// startServices subscribes the allocator and starts the client. On failure
// the client is closed before returning.
func startServices(ctx context.Context, client *afterlocks.Client, allocator *seats.Allocator) (err error) {
	defer func() {
		if err != nil {
			err = errors.Join(err, client.Close(context.WithoutCancel(ctx)))
		}
	}()

	if err := messaging.SubscribeAll(ctx, client.Bus(), allocator); err != nil {
		return fmt.Errorf("subscribe allocator: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	return nil
}

func newClient(cfg *config.Config, out logOutput) (*afterlocks.Client, error) {
	return afterlocks.NewClientWithOptions(
		afterlocks.WithConfig(*cfg),
		afterlocks.WithLogOutput(out.Writer),
	)
}

func newAllocator(client *afterlocks.Client) *seats.Allocator {
	return seats.NewAllocator(client.Bus(), client.Logger())
}

func newMessagingService(client *afterlocks.Client) *seats.MessagingService {
	return seats.NewMessagingService(client.Bridge())
}
