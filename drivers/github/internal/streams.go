package driver

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/datazip-inc/olake-github/types"
)

const (
	acceptDefault  = "application/vnd.github+json"
	acceptProjects = "application/vnd.github.inertia-preview+json"
	acceptStarred  = "application/vnd.github.v3.star+json"
)

var pathVariable = regexp.MustCompile(`\{([a-z_]+)\}`)

// transformFunc fills record fields the API does not return at the top level; records it
// rejects are dropped
type transformFunc func(record types.Record, parent types.ParentRef) bool

type streamDefinition struct {
	descriptor *types.StreamDescriptor
	// path relative to the API root; variables come from the parent reference
	path   string
	query  map[string]string
	accept string
	// endpoint accepts the lower bound as the since parameter
	since     bool
	transform transformFunc
}

// expandPath fills the path template with the escaped variables of the parent reference
func expandPath(template string, vars map[string]string) (string, error) {
	var missing string
	path := pathVariable.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, found := vars[name]
		if !found || value == "" {
			missing = name
			return match
		}
		return url.PathEscape(value)
	})
	if missing != "" {
		return "", fmt.Errorf("path variable [%s] of %s is not set", missing, template)
	}
	return path, nil
}

type schemaBuilder struct {
	schema *types.TypeSchema
}

func fields() *schemaBuilder {
	return &schemaBuilder{schema: types.NewTypeSchema()}
}

func (b *schemaBuilder) of(kind types.DataType, columns ...string) *schemaBuilder {
	for _, column := range columns {
		if kind == types.TIMESTAMP {
			b.schema.AddTimestamp(column)
			continue
		}
		b.schema.AddTypes(column, types.NULL, kind)
	}
	return b
}

func (b *schemaBuilder) build() *types.TypeSchema {
	return b.schema
}

func fullTable(id string, keys ...string) *types.StreamDescriptor {
	return &types.StreamDescriptor{ID: id, ReplicationMethod: types.FullTable, KeyProperties: keys}
}

func incremental(id, bookmarkKey string, keys ...string) *types.StreamDescriptor {
	return &types.StreamDescriptor{ID: id, ReplicationMethod: types.Incremental, BookmarkKey: bookmarkKey, KeyProperties: keys}
}

func child(descriptor *types.StreamDescriptor, parent string, vars map[string]string) *types.StreamDescriptor {
	descriptor.Parent = parent
	descriptor.ParentVars = vars
	return descriptor
}

func publishes(descriptor *types.StreamDescriptor, field string) *types.StreamDescriptor {
	descriptor.IDField = field
	return descriptor
}

// committedAt lifts the committer date of a commit to updated_at
func committedAt(record types.Record) {
	commit, _ := record["commit"].(map[string]any)
	committer, _ := commit["committer"].(map[string]any)
	if date, found := committer["date"]; found {
		record["updated_at"] = date
	}
}

func withParentVar(field, variable string) transformFunc {
	return func(record types.Record, parent types.ParentRef) bool {
		record[field] = parent.Vars[variable]
		return true
	}
}

// numeric renders ids carried as path variables back as numbers
func numeric(value string) any {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	return value
}

func withParentNumber(field, variable string) transformFunc {
	return func(record types.Record, parent types.ParentRef) bool {
		record[field] = numeric(parent.Vars[variable])
		return true
	}
}

func userFields(b *schemaBuilder) *schemaBuilder {
	return b.of(types.INT64, "id").
		of(types.STRING, "login", "node_id", "avatar_url", "url", "html_url", "type").
		of(types.BOOL, "site_admin")
}

// registry lists every stream of the connector; parents precede their children
func registry() []*streamDefinition {
	return []*streamDefinition{
		{
			descriptor: withSchema(fullTable("assignees", "id"), userFields(fields())),
			path:       "repos/{owner}/{repo}/assignees",
		},
		{
			descriptor: withSchema(fullTable("collaborators", "id"), userFields(fields()).of(types.OBJECT, "permissions").of(types.STRING, "role_name")),
			path:       "repos/{owner}/{repo}/collaborators",
		},
		{
			descriptor: withSchema(incremental("comments", "updated_at", "id"), fields().
				of(types.INT64, "id").
				of(types.STRING, "node_id", "url", "html_url", "issue_url", "body", "author_association").
				of(types.OBJECT, "user", "reactions").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path:  "repos/{owner}/{repo}/issues/comments",
			query: map[string]string{"sort": "updated", "direction": "asc"},
			since: true,
		},
		{
			descriptor: withSchema(incremental("commit_comments", "updated_at", "id"), fields().
				of(types.INT64, "id", "position", "line").
				of(types.STRING, "node_id", "url", "html_url", "body", "path", "commit_id", "author_association").
				of(types.OBJECT, "user", "reactions").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path: "repos/{owner}/{repo}/comments",
		},
		{
			descriptor: withSchema(incremental("commits", "updated_at", "sha"), fields().
				of(types.STRING, "sha", "node_id", "url", "html_url", "comments_url").
				of(types.OBJECT, "commit", "author", "committer").
				of(types.ARRAY, "parents").
				of(types.TIMESTAMP, "updated_at")),
			path:  "repos/{owner}/{repo}/commits",
			since: true,
			transform: func(record types.Record, _ types.ParentRef) bool {
				committedAt(record)
				return true
			},
		},
		{
			descriptor: withSchema(incremental("events", "created_at", "id"), fields().
				of(types.STRING, "id", "type").
				of(types.OBJECT, "actor", "repo", "org", "payload").
				of(types.BOOL, "public").
				of(types.TIMESTAMP, "created_at")),
			path: "repos/{owner}/{repo}/events",
		},
		{
			descriptor: withSchema(incremental("issue_events", "created_at", "id"), fields().
				of(types.INT64, "id").
				of(types.STRING, "node_id", "url", "event", "commit_id", "commit_url").
				of(types.OBJECT, "actor", "issue", "label", "assignee").
				of(types.TIMESTAMP, "created_at")),
			path: "repos/{owner}/{repo}/issues/events",
		},
		{
			descriptor: withSchema(fullTable("issue_labels", "id"), fields().
				of(types.INT64, "id").
				of(types.STRING, "node_id", "url", "name", "description", "color").
				of(types.BOOL, "default")),
			path: "repos/{owner}/{repo}/labels",
		},
		{
			descriptor: withSchema(incremental("issue_milestones", "updated_at", "id"), fields().
				of(types.INT64, "id", "number", "open_issues", "closed_issues").
				of(types.STRING, "node_id", "url", "html_url", "title", "description", "state").
				of(types.OBJECT, "creator").
				of(types.TIMESTAMP, "created_at", "updated_at", "closed_at", "due_on")),
			path:  "repos/{owner}/{repo}/milestones",
			query: map[string]string{"state": "all", "sort": "due_on", "direction": "asc"},
		},
		{
			descriptor: withSchema(incremental("issues", "updated_at", "id"), fields().
				of(types.INT64, "id", "number", "comments").
				of(types.STRING, "node_id", "url", "html_url", "title", "body", "state", "author_association").
				of(types.OBJECT, "user", "assignee", "milestone", "pull_request").
				of(types.ARRAY, "labels", "assignees").
				of(types.BOOL, "locked").
				of(types.TIMESTAMP, "created_at", "updated_at", "closed_at")),
			path:  "repos/{owner}/{repo}/issues",
			query: map[string]string{"state": "all", "sort": "updated", "direction": "asc"},
			since: true,
		},
		{
			descriptor: withSchema(publishes(incremental("projects", "updated_at", "id"), "id"), fields().
				of(types.INT64, "id", "number").
				of(types.STRING, "node_id", "url", "html_url", "columns_url", "name", "body", "state").
				of(types.OBJECT, "creator").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path:   "repos/{owner}/{repo}/projects",
			query:  map[string]string{"state": "all"},
			accept: acceptProjects,
		},
		{
			descriptor: withSchema(child(publishes(incremental("project_columns", "updated_at", "id"), "id"), "projects", map[string]string{"project_id": "id"}), fields().
				of(types.INT64, "id", "project_id").
				of(types.STRING, "node_id", "url", "project_url", "cards_url", "name").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path:      "projects/{project_id}/columns",
			accept:    acceptProjects,
			transform: withParentNumber("project_id", "project_id"),
		},
		{
			descriptor: withSchema(child(incremental("project_cards", "updated_at", "id"), "project_columns", map[string]string{"column_id": "id"}), fields().
				of(types.INT64, "id", "column_id").
				of(types.STRING, "node_id", "url", "column_url", "content_url", "project_url", "note").
				of(types.OBJECT, "creator").
				of(types.BOOL, "archived").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path:      "projects/columns/{column_id}/cards",
			query:     map[string]string{"archived_state": "all"},
			accept:    acceptProjects,
			transform: withParentNumber("column_id", "column_id"),
		},
		{
			descriptor: withSchema(publishes(incremental("pull_requests", "updated_at", "id"), "id"), fields().
				of(types.INT64, "id", "number").
				of(types.STRING, "node_id", "url", "html_url", "title", "body", "state", "merge_commit_sha", "author_association").
				of(types.OBJECT, "user", "head", "base", "milestone").
				of(types.ARRAY, "labels", "assignees", "requested_reviewers").
				of(types.BOOL, "locked", "draft").
				of(types.TIMESTAMP, "created_at", "updated_at", "closed_at", "merged_at")),
			path:  "repos/{owner}/{repo}/pulls",
			query: map[string]string{"state": "all", "sort": "updated", "direction": "asc"},
		},
		{
			descriptor: withSchema(child(incremental("reviews", "submitted_at", "id"), "pull_requests", map[string]string{"pr_number": "number"}), fields().
				of(types.INT64, "id", "pr_number").
				of(types.STRING, "node_id", "body", "state", "html_url", "pull_request_url", "commit_id", "author_association").
				of(types.OBJECT, "user").
				of(types.TIMESTAMP, "submitted_at")),
			path: "repos/{owner}/{repo}/pulls/{pr_number}/reviews",
			transform: func(record types.Record, parent types.ParentRef) bool {
				// pending reviews have no submission time yet
				if record["submitted_at"] == nil {
					return false
				}
				record["pr_number"] = numeric(parent.Vars["pr_number"])
				return true
			},
		},
		{
			descriptor: withSchema(child(fullTable("pull_request_reviews", "id"), "pull_requests", map[string]string{"pr_number": "number"}), fields().
				of(types.INT64, "id", "pr_id", "pr_number").
				of(types.STRING, "node_id", "body", "state", "html_url", "pull_request_url", "commit_id", "author_association").
				of(types.OBJECT, "user").
				of(types.TIMESTAMP, "submitted_at")),
			path: "repos/{owner}/{repo}/pulls/{pr_number}/reviews",
			transform: func(record types.Record, parent types.ParentRef) bool {
				record["pr_id"] = numeric(parent.ID)
				record["pr_number"] = numeric(parent.Vars["pr_number"])
				return true
			},
		},
		{
			descriptor: withSchema(child(incremental("review_comments", "updated_at", "id"), "pull_requests", map[string]string{"pr_number": "number"}), fields().
				of(types.INT64, "id", "pull_request_review_id", "line", "original_line").
				of(types.STRING, "node_id", "url", "html_url", "pull_request_url", "diff_hunk", "path", "commit_id", "original_commit_id", "body", "author_association").
				of(types.OBJECT, "user", "reactions").
				of(types.TIMESTAMP, "created_at", "updated_at")),
			path:  "repos/{owner}/{repo}/pulls/{pr_number}/comments",
			query: map[string]string{"sort": "updated", "direction": "asc"},
			since: true,
		},
		{
			descriptor: withSchema(child(incremental("pr_commits", "updated_at", "id"), "pull_requests", map[string]string{"pr_number": "number"}), fields().
				of(types.INT64, "pr_id", "pr_number").
				of(types.STRING, "id", "sha", "node_id", "url", "html_url").
				of(types.OBJECT, "commit", "author", "committer").
				of(types.ARRAY, "parents").
				of(types.TIMESTAMP, "updated_at")),
			path: "repos/{owner}/{repo}/pulls/{pr_number}/commits",
			transform: func(record types.Record, parent types.ParentRef) bool {
				committedAt(record)
				record["pr_id"] = numeric(parent.ID)
				record["pr_number"] = numeric(parent.Vars["pr_number"])
				if sha, err := record.GetStringifiedValue("sha"); err == nil {
					record["id"] = parent.ID + "-" + sha
				}
				return true
			},
		},
		{
			descriptor: withSchema(fullTable("releases", "id"), fields().
				of(types.INT64, "id").
				of(types.STRING, "node_id", "url", "html_url", "tag_name", "target_commitish", "name", "body").
				of(types.OBJECT, "author").
				of(types.ARRAY, "assets").
				of(types.BOOL, "draft", "prerelease").
				of(types.TIMESTAMP, "created_at", "published_at")),
			path: "repos/{owner}/{repo}/releases",
		},
		{
			descriptor: withSchema(incremental("stargazers", "starred_at", "user_id"), fields().
				of(types.INT64, "user_id").
				of(types.OBJECT, "user").
				of(types.TIMESTAMP, "starred_at")),
			path:   "repos/{owner}/{repo}/stargazers",
			accept: acceptStarred,
			transform: func(record types.Record, _ types.ParentRef) bool {
				if user, ok := record["user"].(map[string]any); ok {
					record["user_id"] = user["id"]
				}
				return true
			},
		},
		{
			descriptor: withSchema(publishes(fullTable("teams", "id"), "id"), fields().
				of(types.INT64, "id").
				of(types.STRING, "node_id", "url", "html_url", "name", "slug", "description", "privacy", "permission").
				of(types.OBJECT, "parent")),
			path: "orgs/{owner}/teams",
		},
		{
			descriptor: withSchema(child(publishes(fullTable("team_members", "team_slug", "id"), "id"), "teams", map[string]string{"team_slug": "slug"}),
				userFields(fields()).of(types.STRING, "team_slug")),
			path:      "orgs/{owner}/teams/{team_slug}/members",
			transform: withParentVar("team_slug", "team_slug"),
		},
		{
			descriptor: withSchema(child(fullTable("team_memberships", "url"), "team_members", map[string]string{"username": "login"}), fields().
				of(types.STRING, "url", "role", "state", "login", "team_slug")),
			path: "orgs/{owner}/teams/{team_slug}/memberships/{username}",
			transform: func(record types.Record, parent types.ParentRef) bool {
				record["login"] = parent.Vars["username"]
				record["team_slug"] = parent.Vars["team_slug"]
				return true
			},
		},
	}
}

func withSchema(descriptor *types.StreamDescriptor, schema *schemaBuilder) *types.StreamDescriptor {
	descriptor.Schema = schema.build()
	return descriptor
}
