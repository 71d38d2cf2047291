package store

import "context"

// NullStatus drops every write. It stands in when REDIS_URL is empty.
type NullStatus struct{}

func (NullStatus) Set(context.Context, string, Status) error { return nil }

func (NullStatus) Get(context.Context, string) (Status, bool, error) { return Status{}, false, nil }
