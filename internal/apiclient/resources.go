package apiclient

import (
	"context"
	"fmt"
	"net/url"
)

// Resource is the CRUD surface of one REST collection.
type Resource[T any] struct {
	c    *Client
	path string
}

func NewResource[T any](c *Client, name string) Resource[T] {
	return Resource[T]{c: c, path: "/api/" + name}
}

func (r Resource[T]) Path() string { return r.path }

func (r Resource[T]) item(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%s: empty id", r.path)
	}
	return r.path + "/" + url.PathEscape(id), nil
}

func (r Resource[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := r.c.Get(ctx, r.path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Resource[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	p, err := r.item(id)
	if err != nil {
		return out, err
	}
	err = r.c.Get(ctx, p, &out)
	return out, err
}

func (r Resource[T]) Create(ctx context.Context, v T) (T, error) {
	var out T
	err := r.c.Post(ctx, r.path, v, &out)
	return out, err
}

func (r Resource[T]) Update(ctx context.Context, id string, v T) (T, error) {
	var out T
	p, err := r.item(id)
	if err != nil {
		return out, err
	}
	err = r.c.Put(ctx, p, v, &out)
	return out, err
}

func (r Resource[T]) Delete(ctx context.Context, id string) error {
	p, err := r.item(id)
	if err != nil {
		return err
	}
	return r.c.Delete(ctx, p)
}

func (c *Client) Users() Resource[User]               { return NewResource[User](c, "users") }
func (c *Client) Drivers() Resource[Driver]           { return NewResource[Driver](c, "drivers") }
func (c *Client) Vehicles() Resource[Vehicle]         { return NewResource[Vehicle](c, "vehicles") }
func (c *Client) Students() Resource[Student]         { return NewResource[Student](c, "students") }
func (c *Client) Messages() Resource[Message]         { return NewResource[Message](c, "messages") }
func (c *Client) DriverAlerts() Resource[DriverAlert] { return NewResource[DriverAlert](c, "driveralerts") }
func (c *Client) Stops() Resource[Stop]               { return NewResource[Stop](c, "stops") }
func (c *Client) StopTimes() Resource[StopTime]       { return NewResource[StopTime](c, "stoptimes") }
func (c *Client) GPS() Resource[GPS]                  { return NewResource[GPS](c, "gpss") }
func (c *Client) BME() Resource[BME]                  { return NewResource[BME](c, "bmes") }
