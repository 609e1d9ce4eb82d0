package store

import (
	"context"
	"fmt"
	"sort"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"streetlamp/internal/model"
)

// OpenApp initialises the Firebase app shared by the database and
// messaging clients.
func OpenApp(ctx context.Context, databaseURL, credentialsFile string) (*firebase.App, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	return app, nil
}

// Firebase stores state in the realtime database under the paths the
// device firmware uses.
type Firebase struct {
	client     *db.Client
	statePath  string
	tokensPath string
}

func NewFirebase(ctx context.Context, app *firebase.App, statePath, tokensPath string) (*Firebase, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("open realtime database: %w", err)
	}
	return &Firebase{client: client, statePath: statePath, tokensPath: tokensPath}, nil
}

func (f *Firebase) Status(ctx context.Context) (*model.DeviceRecord, error) {
	var rec *model.DeviceRecord
	if err := f.client.NewRef(f.statePath).Get(ctx, &rec); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.statePath, err)
	}
	return rec, nil
}

func (f *Firebase) SetField(ctx context.Context, field string, value bool) error {
	if err := checkField(field); err != nil {
		return err
	}
	if err := f.client.NewRef(f.statePath).Child(field).Set(ctx, value); err != nil {
		return fmt.Errorf("write %s/%s: %w", f.statePath, field, err)
	}
	return nil
}

func (f *Firebase) AddToken(ctx context.Context, token string) error {
	if _, err := f.client.NewRef(f.tokensPath).Push(ctx, token); err != nil {
		return fmt.Errorf("push %s: %w", f.tokensPath, err)
	}
	return nil
}

// Tokens returns the registered tokens in push-key order, which is the
// order they were added.
func (f *Firebase) Tokens(ctx context.Context) ([]string, error) {
	var byKey map[string]string
	if err := f.client.NewRef(f.tokensPath).Get(ctx, &byKey); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.tokensPath, err)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out, nil
}
