package command

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"codeverse/internal/live"
	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"

	"github.com/google/uuid"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "user",
			Action:       "register",
			Method:       http.MethodPost,
			PathTemplate: "/api/register",
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "email", Prompt: "email", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true, Secret: true},
			},
		},
		{
			Service:      "user",
			Action:       "login",
			Method:       http.MethodPost,
			PathTemplate: "/api/login",
			Fields: []Field{
				{Name: "email", Prompt: "email", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true, Secret: true},
			},
		},
		{
			Service:      "problem",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: "/api/problems/",
		},
		{
			Service:      "problem",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: "/api/problems/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "template",
			Method:       http.MethodGet,
			PathTemplate: "/api/problems/:id/metadata/:language",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldLanguage, Required: true},
				{Name: "output", Prompt: "output file", Type: FieldFile},
			},
		},
		{
			Service:      "submission",
			Action:       "create",
			Method:       http.MethodPost,
			PathTemplate: submission.CreatePath,
			RequiresAuth: true,
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: true, FromSession: true},
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldLanguage, Required: true},
				{Name: "code", Aliases: []string{"source_code"}, Prompt: "code", Type: FieldString, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString},
			},
		},
		{
			Service:      "submission",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: submission.CreatePath,
			RequiresAuth: true,
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, FromSession: true},
			},
			Query: []string{"user_id"},
		},
		{
			Service:      "submission",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: "/api/submission/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "daily",
			Method:       http.MethodGet,
			PathTemplate: "/api/submission/daily/count",
			RequiresAuth: true,
		},
		{
			Service:      "contest",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: "/api/contests/",
		},
		{
			Service:      "contest",
			Action:       "register",
			Method:       http.MethodPost,
			PathTemplate: "/api/contests/register",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: true, FromSession: true},
				{Name: "contest_title", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_title", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "leaderboard",
			Action:       "show",
			Method:       http.MethodGet,
			PathTemplate: "/api/leaderboard/",
			Fields: []Field{
				{Name: "contest_title", Aliases: []string{"contest"}, Prompt: "contest_title", Type: FieldString, Required: true},
			},
			Query: []string{"contest_title"},
		},
		{
			Service:      "discussion",
			Action:       "show",
			Method:       http.MethodGet,
			PathTemplate: "/api/discussion/:problem",
			Fields: []Field{
				{Name: "problem", Aliases: []string{"title", "problem_name"}, Prompt: "problem title", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// ApplyEndpoints replaces command paths, e.g. with the absolute URL of a separately hosted service.
func ApplyEndpoints(commands map[string]Command, endpoints map[string]string) error {
	for key, path := range endpoints {
		cmd, ok := commands[key]
		if !ok {
			return pkgerrors.Newf(pkgerrors.InvalidParams, "unknown command in endpoints: %s", key)
		}
		cmd.PathTemplate = strings.TrimSpace(path)
		commands[key] = cmd
	}
	return nil
}

// Keys lists command keys in a stable order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest turns a command and its params into a RequestSpec.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	ApplyShortcuts(params)
	if err := checkRequired(cmd, params); err != nil {
		return RequestSpec{}, err
	}

	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query := buildQuery(cmd, params); query != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + query
	}

	headers := map[string]string{}
	if cmd.Key() == "submission create" {
		key := params.Get("idempotency_key")
		if key == "" {
			key = uuid.NewString()
		}
		headers["Idempotency-Key"] = key
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, pkgerrors.Wrapf(err, pkgerrors.InternalError, "marshal request body failed: %v", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func checkRequired(cmd Command, params Params) error {
	for _, field := range cmd.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			return pkgerrors.Newf(pkgerrors.RequiredFieldEmpty, "missing required field: %s", field.Name)
		}
	}
	return nil
}

// buildPath fills every ":name" segment of template from params. Problem
// titles become their discussion room name.
func buildPath(template string, params Params) (string, error) {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") || len(seg) == 1 {
			continue
		}
		key := seg[1:]
		value := strings.TrimSpace(params.Get(key))
		switch key {
		case "language":
			if value == "" {
				break
			}
			lang, err := submission.ParseLanguage(value)
			if err != nil {
				return "", err
			}
			value = string(lang)
		case "problem":
			value = live.RoomName(value)
		}
		if value == "" {
			return "", pkgerrors.Newf(pkgerrors.RequiredFieldEmpty, "missing path parameter: %s", key)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

func buildQuery(cmd Command, params Params) string {
	values := url.Values{}
	for _, name := range cmd.Query {
		if v := params.Get(name); v != "" {
			values.Set(name, v)
		}
	}
	return values.Encode()
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Key() {
	case "user register":
		return map[string]string{
			"username": params.Get("username"),
			"email":    params.Get("email"),
			"password": params.Get("password"),
		}, nil
	case "user login":
		return map[string]string{
			"email":    params.Get("email"),
			"password": params.Get("password"),
		}, nil
	case "submission create":
		return buildSubmissionPayload(params)
	case "contest register":
		userID, err := PositiveInt64(params, "user_id")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"user_id":       userID,
			"contest_title": params.Get("contest_title"),
		}, nil
	}
	return nil, nil
}

// ApplyShortcuts marks code as file-backed when only source_file was given.
func ApplyShortcuts(params Params) {
	if params.Get("source_file") != "" && params.Get("code") == "" {
		params.Set("code", FileSentinel)
	}
}

// SourceCode resolves the code param, reading source_file when code is the file sentinel or empty.
func SourceCode(params Params) (string, error) {
	code := params.Get("code")
	if (code == "" || code == FileSentinel) && params.Get("source_file") != "" {
		return ReadFile(params.Get("source_file"))
	}
	if code == FileSentinel {
		return "", pkgerrors.ValidationError("source_file", "is required when code is read from a file")
	}
	return code, nil
}

func buildSubmissionPayload(params Params) (interface{}, error) {
	userID, err := PositiveInt64(params, "user_id")
	if err != nil {
		return nil, err
	}
	problemID, err := PositiveInt64(params, "problem_id")
	if err != nil {
		return nil, err
	}
	lang, err := submission.ParseLanguage(params.Get("language"))
	if err != nil {
		return nil, err
	}
	code, err := SourceCode(params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"user_id":    userID,
		"problem_id": problemID,
		"language":   string(lang),
		"code":       code,
	}, nil
}
