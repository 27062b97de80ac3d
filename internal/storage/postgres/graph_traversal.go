//go:build postgres

package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.GraphProvider = (*MemoryStore)(nil)

// GraphExpand mirrors the sqlite backend's bounded BFS: walk outgoing
// memory_links from seeds, skipping archived targets, up to bounds.MaxHops
// hops, capped by MaxNodes/MaxEdges/Timeout.
func (s *MemoryStore) GraphExpand(ctx context.Context, seeds []types.MemoryID, bounds storage.GraphBounds) (*storage.GraphResult, error) {
	bounds.Normalize()
	ctx, cancel := context.WithTimeout(ctx, bounds.Timeout)
	defer cancel()

	visited := make(map[types.MemoryID]bool, len(seeds))
	bestScore := make(map[types.MemoryID]float64)
	var edges []storage.GraphEdge
	var boundsReached []string

	frontier := make([]types.MemoryID, 0, len(seeds))
	for _, seed := range seeds {
		if !visited[seed] {
			visited[seed] = true
			frontier = append(frontier, seed)
		}
	}

	for depth := 1; depth <= bounds.MaxHops && len(frontier) > 0; depth++ {
		select {
		case <-ctx.Done():
			boundsReached = append(boundsReached, "timeout")
			depth = bounds.MaxHops + 1
			continue
		default:
		}

		var next []types.MemoryID
		for _, from := range frontier {
			links, err := s.ListLinks(ctx, from)
			if err != nil {
				return nil, fmt.Errorf("postgres: graph expand links for %s: %w", from, err)
			}
			for _, l := range links {
				if len(edges) >= bounds.MaxEdges {
					boundsReached = append(boundsReached, "max_edges")
					break
				}
				archived, err := s.isArchived(ctx, l.Target)
				if err != nil || archived {
					continue
				}
				edges = append(edges, storage.GraphEdge{From: l.Source, To: l.Target, LinkType: l.LinkType, Strength: l.Strength, Depth: depth})

				score := l.Strength * math.Pow(0.5, float64(depth-1))
				if score > bestScore[l.Target] {
					bestScore[l.Target] = score
				}

				if !visited[l.Target] {
					visited[l.Target] = true
					if len(visited) >= bounds.MaxNodes {
						boundsReached = append(boundsReached, "max_nodes")
						continue
					}
					next = append(next, l.Target)
				}
			}
		}
		frontier = next
	}

	nodes := make([]storage.ScoredMemory, 0, len(visited))
	for id := range visited {
		m, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		nodes = append(nodes, storage.ScoredMemory{Memory: m, Score: bestScore[id]})
	}

	return &storage.GraphResult{Nodes: nodes, Edges: edges, BoundsReached: dedupeStrings(boundsReached)}, nil
}

func (s *MemoryStore) isArchived(ctx context.Context, id types.MemoryID) (bool, error) {
	var archived bool
	err := s.db.QueryRowContext(ctx, `SELECT is_archived FROM memories WHERE id = $1`, string(id)).Scan(&archived)
	if err != nil {
		return false, err
	}
	return archived, nil
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// MarkLinkTraversed records that a graph expansion crossed this edge, used
// by the retriever's graph-expansion stage so a link's decay clock resets
// on genuinely-used links.
func (s *MemoryStore) MarkLinkTraversed(ctx context.Context, source, target types.MemoryID, linkType types.LinkType, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_links SET last_traversed_at = $1 WHERE source = $2 AND target = $3 AND link_type = $4`,
		at, string(source), string(target), string(linkType))
	return err
}
