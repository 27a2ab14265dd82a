package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/llmportal/orchestrator/internal/auth"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/repository"
)

type output struct {
	EntityRef string    `json:"entity_ref"`
	Groups    []string  `json:"groups"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func main() {
	var (
		secret      = flag.String("secret", os.Getenv("IDENTITY_JWT_SECRET"), "HS256 signing secret")
		issuer      = flag.String("issuer", os.Getenv("IDENTITY_JWT_ISSUER"), "Token issuer")
		audience    = flag.String("audience", os.Getenv("IDENTITY_JWT_AUDIENCE"), "Token audience")
		entityRef   = flag.String("user", "user:default/admin", "Entity ref of the caller")
		groupsInput = flag.String("groups", "", "Comma-separated group refs the caller belongs to")
		ttl         = flag.Duration("ttl", time.Hour, "Token lifetime")
		seed        = flag.Bool("seed", false, "Store the user and its memberships in the postgres directory")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (with -seed)")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "IDENTITY_JWT_SECRET is required")
		os.Exit(1)
	}

	ref, err := model.ParseEntityRef(*entityRef)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid user ref:", err)
		os.Exit(1)
	}
	groups, err := parseGroups(*groupsInput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if *seed {
		if err := seedDirectory(*databaseURL, ref, groups); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}

	// The caller's own ref is part of its ownership claims.
	claims := append([]string{ref.String()}, groups...)
	token, err := auth.Issue(*secret, *issuer, *audience, ref.String(), claims, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}

	out := output{
		EntityRef: ref.String(),
		Groups:    groups,
		Token:     token,
		ExpiresAt: time.Now().Add(*ttl).UTC(),
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func parseGroups(input string) ([]string, error) {
	groups := make([]string, 0)
	for _, part := range strings.Split(input, ",") {
		raw := strings.TrimSpace(part)
		if raw == "" {
			continue
		}
		ref, err := model.ParseEntityRef(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid group ref %q: %w", raw, err)
		}
		if !strings.EqualFold(ref.Kind, model.KindGroup) {
			return nil, fmt.Errorf("%s is not a group ref", raw)
		}
		groups = append(groups, ref.String())
	}
	return groups, nil
}

func seedDirectory(databaseURL string, user model.EntityRef, groups []string) error {
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required with -seed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, databaseURL, repository.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	entity := model.Entity{
		Kind:     model.KindUser,
		Metadata: model.EntityMetadata{Name: user.Name, Namespace: user.Namespace},
	}
	for _, g := range groups {
		group, _ := model.ParseEntityRef(g)
		existing, err := repo.GetEntityByRef(ctx, g)
		if err != nil {
			return fmt.Errorf("look up group %s: %w", g, err)
		}
		if existing == nil {
			if err := repo.UpsertEntity(ctx, model.Entity{
				Kind:     model.KindGroup,
				Metadata: model.EntityMetadata{Name: group.Name, Namespace: group.Namespace},
			}); err != nil {
				return fmt.Errorf("create group %s: %w", g, err)
			}
		}
		entity.Relations = append(entity.Relations, model.Relation{Type: model.RelationMemberOf, TargetRef: g})
	}

	if err := repo.UpsertEntity(ctx, entity); err != nil {
		return fmt.Errorf("store user %s: %w", entity.Ref(), err)
	}
	return nil
}
