package repl

import (
	"context"

	"codeverse/internal/cli/command"
	"codeverse/internal/submission"
	"codeverse/pkg/utils/contextkey"
	"codeverse/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var solveFields = []command.Field{
	{Name: "user_id", Prompt: "user_id", Type: command.FieldInt64, Required: true, FromSession: true},
	{Name: "problem_id", Aliases: []string{"id", "problem"}, Prompt: "problem_id", Type: command.FieldInt64, Required: true},
	{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: command.FieldLanguage, Required: true},
	{Name: "code", Aliases: []string{"source_code"}, Prompt: "code", Type: command.FieldString, Required: true},
	{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: command.FieldFile},
}

// handleSolve submits code and follows its status until the judge reports a result.
//
//	solve problem_id=1 language=python source_file=./main.py
func (s *Session) handleSolve(ctx context.Context, args []string) error {
	params, err := command.ParseArgs(args)
	if err != nil {
		return err
	}
	params.Canonicalize(solveFields)
	command.ApplyShortcuts(params)
	s.fillFromSession(solveFields, params)
	if err := s.promptMissing(solveFields, params); err != nil {
		return err
	}

	req, err := solveRequest(params)
	if err != nil {
		return err
	}
	ctx = context.WithValue(ctx, contextkey.TraceID, uuid.NewString())
	logger.Debug(ctx, "solve", zap.Int64("problem_id", req.ProblemID), zap.String("language", string(req.Language)))

	if err := s.solver.Submit(ctx, req); err != nil {
		// The ERROR update has already been printed for failures owned by this attempt.
		if s.solver.Current().Terminal() {
			return nil
		}
		return err
	}

	if h, ok := s.solver.Handle(); ok {
		ctx = context.WithValue(ctx, contextkey.SubmissionID, h.SubmissionID)
	}
	ctx = context.WithValue(ctx, contextkey.Attempt, s.solver.Current().Attempt)
	logger.Info(ctx, "submission accepted")

	final, err := s.solver.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.solver.Dispose()
			s.printLine("stopped waiting for submission %s", final.SubmissionID)
		}
		return err
	}
	logger.Info(ctx, "submission finished", zap.String("status", string(final.Status)))
	if final.Status == submission.StatusCompleted || final.Status == submission.StatusFailed {
		s.presentTerminal(ctx, final)
		s.printLine("view again with: submission get id=%s", final.SubmissionID)
	}
	return nil
}

func solveRequest(params command.Params) (submission.Request, error) {
	userID, err := command.PositiveInt64(params, "user_id")
	if err != nil {
		return submission.Request{}, err
	}
	problemID, err := command.PositiveInt64(params, "problem_id")
	if err != nil {
		return submission.Request{}, err
	}
	lang, err := submission.ParseLanguage(params.Get("language"))
	if err != nil {
		return submission.Request{}, err
	}
	code, err := command.SourceCode(params)
	if err != nil {
		return submission.Request{}, err
	}
	req := submission.Request{
		OwnerID:    userID,
		ProblemID:  problemID,
		Language:   lang,
		SourceCode: code,
	}
	if err := req.Validate(); err != nil {
		return submission.Request{}, err
	}
	return req, nil
}

// printUpdate is the status line shown for every update of the current attempt.
func (s *Session) printUpdate(u submission.Update) {
	if u.SubmissionID != "" {
		s.printLine("[%s] %s (submission %s)", u.Status, u.Message, u.SubmissionID)
		return
	}
	s.printLine("[%s] %s", u.Status, u.Message)
}
