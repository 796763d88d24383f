// Package graphqlapi serves the /graphql surface named in spec.md §6:
// holdings(principal) and summary(principal). The schema (schema.graphqls)
// is small enough that this hand-rolls field resolution over
// github.com/vektah/gqlparser/v2's query parser instead of running
// gqlgen's code generator, while still answering in gqlgen's
// graphql.Response envelope shape (data/errors) for wire compatibility
// with anything that expects a standard GraphQL response.
package graphqlapi

import (
	"encoding/json"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/luxfi/aggregator/internal/dispatch"
	"github.com/luxfi/aggregator/internal/domain"
)

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// Handler returns an http.HandlerFunc serving POST /graphql against disp.
func Handler(disp *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResponse(w, graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("invalid request body: %v", err)}})
			return
		}

		doc, parseErr := parser.ParseQuery(&ast.Source{Name: "query", Input: req.Query})
		if parseErr != nil {
			writeResponse(w, graphql.Response{Errors: gqlerror.List{parseErr}})
			return
		}
		if len(doc.Operations) == 0 {
			writeResponse(w, graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("no operation in query")}})
			return
		}

		op := doc.Operations[0]
		data := map[string]interface{}{}
		var errs gqlerror.List

		for _, sel := range op.SelectionSet {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}

			switch field.Name {
			case "holdings":
				principal, err := fieldPrincipal(field, req.Variables)
				if err != nil {
					errs = append(errs, gqlerror.Errorf("%s: %v", field.Name, err))
					continue
				}
				holdings, err := disp.GetHoldings(r.Context(), principal)
				if err != nil {
					errs = append(errs, gqlerror.Errorf("holdings: %v", err))
					continue
				}
				data["holdings"] = holdings
			case "summary":
				principal, err := fieldPrincipal(field, req.Variables)
				if err != nil {
					errs = append(errs, gqlerror.Errorf("%s: %v", field.Name, err))
					continue
				}
				totals, err := disp.GetSummary(r.Context(), principal)
				if err != nil {
					errs = append(errs, gqlerror.Errorf("summary: %v", err))
					continue
				}
				data["summary"] = totals
			case "pools":
				data["pools"] = disp.PoolsGraphQL()
			default:
				errs = append(errs, gqlerror.Errorf("unknown field %q", field.Name))
			}
		}

		raw, err := json.Marshal(data)
		if err != nil {
			writeResponse(w, graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("encode response: %v", err)}})
			return
		}
		writeResponse(w, graphql.Response{Data: raw, Errors: errs})
	}
}

// fieldPrincipal extracts and validates the "principal" argument from a
// holdings/summary selection, resolving variable references against the
// request's variables map.
func fieldPrincipal(field *ast.Field, variables map[string]interface{}) (domain.UserID, error) {
	arg := field.Arguments.ForName("principal")
	if arg == nil || arg.Value == nil {
		return domain.UserID{}, gqlerror.Errorf("missing required argument \"principal\"")
	}

	var raw string
	switch arg.Value.Kind {
	case ast.StringValue:
		raw = arg.Value.Raw
	case ast.Variable:
		v, ok := variables[arg.Value.Raw].(string)
		if !ok {
			return domain.UserID{}, gqlerror.Errorf("variable %q is not a string", arg.Value.Raw)
		}
		raw = v
	default:
		return domain.UserID{}, gqlerror.Errorf("principal must be a string")
	}

	return domain.ParseUserID(raw)
}

func writeResponse(w http.ResponseWriter, resp graphql.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
