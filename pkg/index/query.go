package index

import (
	"context"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/logger"
)

// DefaultLimit caps results when the caller passes no limit.
const DefaultLimit = 10

// BuildQuery turns free text into an FTS5 expression: every whitespace
// separated token is quoted, so operators in user input are matched
// literally and all tokens must appear.
func BuildQuery(query string) (string, error) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return "", errcode.New(errcode.EmptyQuery, "search query is empty")
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " "), nil
}

// Target names one skill's index for a cross-skill search.
type Target struct {
	Skill string
	Path  string
}

// SearchAll queries every target and merges the hits. Targets whose index
// cannot be opened are skipped and reported in the returned error alongside
// any results that were found.
func SearchAll(ctx context.Context, targets []Target, query string, limit int) ([]Match, error) {
	if _, err := BuildQuery(query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var all []Match
	var errs *multierror.Error
	for _, t := range targets {
		matches, err := searchOne(ctx, t, query, limit)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("skill", t.Skill).Debug("skipping index")
			errs = multierror.Append(errs, err)
			continue
		}
		all = append(all, matches...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.Skill != b.Skill {
			return a.Skill < b.Skill
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, errs.ErrorOrNil()
}

func searchOne(ctx context.Context, t Target, query string, limit int) ([]Match, error) {
	ix, err := Open(ctx, t.Path)
	if err != nil {
		return nil, err
	}
	defer ix.Close()

	matches, err := ix.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i].Skill = t.Skill
	}
	return matches, nil
}
