package driver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v80/github"
	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/oauth2"

	"github.com/datazip-inc/olake-github/drivers/abstract"
	"github.com/datazip-inc/olake-github/pkg/paginator"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/logger"
)

const driverType = "github"

type GitHub struct {
	config      *Config
	client      *gh.Client
	paginator   *paginator.Paginator
	definitions map[string]*streamDefinition
	streams     []*types.StreamDescriptor

	observer paginator.Observer
}

func New() *GitHub {
	g := &GitHub{config: &Config{}, definitions: make(map[string]*streamDefinition)}
	for _, definition := range registry() {
		g.definitions[definition.descriptor.ID] = definition
		g.streams = append(g.streams, definition.descriptor)
	}
	return g
}

// SetObserver reports upstream requests and retries; it takes effect on Setup
func (g *GitHub) SetObserver(observer paginator.Observer) {
	g.observer = observer
}

func (g *GitHub) GetConfigRef() abstract.Config {
	return g.config
}

func (g *GitHub) Spec() any {
	schema, err := jsonschema.For[Config](nil)
	if err != nil {
		logger.Errorf("failed to reflect config schema: %s", err)
		return Config{}
	}
	return schema
}

func (g *GitHub) Type() string {
	return driverType
}

func (g *GitHub) Setup(ctx context.Context) error {
	if err := g.config.Validate(); err != nil {
		return fmt.Errorf("failed to validate config: %s", err)
	}

	apiURL, err := g.config.APIURL()
	if err != nil {
		return fmt.Errorf("invalid base_url: %s", err)
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.config.AccessToken})
	client := gh.NewClient(oauth2.NewClient(ctx, tokenSource))
	client.BaseURL = apiURL
	g.client = client

	opts := []paginator.Option{
		paginator.WithRetryPolicy(g.config.RetryPolicy()),
		paginator.WithRequestTimeout(g.config.Timeout()),
		paginator.WithPageSize(g.config.PageSize),
		paginator.WithObserver(g.observer),
		paginator.WithRateLimiter(g.config.RateLimiter()),
	}
	g.paginator = paginator.New(client, opts...)

	logger.Infof("github driver ready for %d repositories at %s", len(g.config.Repositories()), apiURL)
	return nil
}

// Check verifies the token and access to every configured repository
func (g *GitHub) Check(ctx context.Context) error {
	if _, _, err := g.client.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("failed to verify credentials: %s", err)
	}

	checks := []func(ctx context.Context) error{}
	for _, repository := range g.config.Repositories() {
		owner, name, _ := strings.Cut(repository, "/")
		checks = append(checks, func(ctx context.Context) error {
			if _, _, err := g.client.Repositories.Get(ctx, owner, name); err != nil {
				return fmt.Errorf("failed to access repository[%s]: %s", repository, err)
			}
			return nil
		})
	}
	return utils.ErrExec(ctx, checks...)
}

func (g *GitHub) MaxConnections() int {
	return g.config.MaxThreads
}

func (g *GitHub) StartDate() string {
	return g.config.NormalizedStartDate()
}

func (g *GitHub) Streams() []*types.StreamDescriptor {
	return g.streams
}

// Scopes returns one root reference per configured repository
func (g *GitHub) Scopes() []types.ParentRef {
	scopes := []types.ParentRef{}
	for _, repository := range g.config.Repositories() {
		owner, name, _ := strings.Cut(repository, "/")
		scopes = append(scopes, types.ParentRef{
			ID:   repository,
			Vars: map[string]string{"owner": owner, "repo": name},
		})
	}
	return scopes
}

func (g *GitHub) ResourceFor(stream *types.StreamDescriptor, parent types.ParentRef, lowerBound string) (types.ResourceRef, error) {
	definition, found := g.definitions[stream.ID]
	if !found {
		return types.ResourceRef{}, &types.UnknownStreamError{StreamID: stream.ID}
	}

	path, err := expandPath(definition.path, parent.Vars)
	if err != nil {
		return types.ResourceRef{}, err
	}

	query := url.Values{}
	for key, value := range definition.query {
		query.Set(key, value)
	}
	if definition.since && lowerBound != "" {
		query.Set("since", lowerBound)
	}

	return types.ResourceRef{
		Stream: stream.ID,
		Path:   path,
		Query:  query,
		Accept: utils.Ternary(definition.accept != "", definition.accept, acceptDefault),
		Parent: parent,
	}, nil
}

// Fetch returns one page of the stream with the transform of the stream applied
func (g *GitHub) Fetch(ctx context.Context, ref types.ResourceRef, afterToken string) (*types.Page, error) {
	if g.paginator == nil {
		return nil, fmt.Errorf("github driver is not set up")
	}

	page, err := g.paginator.Fetch(ctx, ref, afterToken)
	if err != nil {
		return nil, err
	}

	definition := g.definitions[ref.Stream]
	if definition == nil || definition.transform == nil {
		return page, nil
	}

	records := make([]types.Record, 0, len(page.Records))
	for _, record := range page.Records {
		if definition.transform(record, ref.Parent) {
			records = append(records, record)
		}
	}
	page.Records = records
	return page, nil
}
