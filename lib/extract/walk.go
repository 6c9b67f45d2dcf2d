// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"path"
	"path/filepath"

	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
)

// ancestry is the chain of identifiers from a root to the node being
// visited. It is immutable, so workers can hold a reference while the
// walker keeps descending.
type ancestry struct {
	key    string
	parent *ancestry
	depth  int
}

// push returns the ancestry extended by id. Exceeding maxDepth, or id
// already being its own ancestor, is an ExcessiveDepth error.
func (a *ancestry) push(id contentid.ID, maxDepth int) (*ancestry, error) {
	depth := 1
	if a != nil {
		depth = a.depth + 1
	}
	if depth > maxDepth {
		return nil, carerr.New(carerr.ExcessiveDepth, "nesting depth exceeds %d at %s", maxDepth, id)
	}
	key := id.Key()
	for ancestor := a; ancestor != nil; ancestor = ancestor.parent {
		if ancestor.key == key {
			return nil, carerr.New(carerr.ExcessiveDepth, "%s links to itself through %d levels", id, depth-ancestor.depth)
		}
	}
	return &ancestry{key: key, parent: a, depth: depth}, nil
}

// load resolves id through the index, verifies it when required, and
// decodes it.
func (x *extraction) load(id contentid.ID, relative string) (dagnode.Node, error) {
	data, ok, err := x.index.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ResolutionError{Kind: MissingBlock, ID: id, Path: relative}
	}
	if x.options.Verify {
		if err := car.Verify(id, data); err != nil {
			return nil, err
		}
	}
	return dagnode.Decode(id, data)
}

// walkRoot extracts one root under base. A directory root fills base;
// any other root is written as DefaultName inside it.
func (x *extraction) walkRoot(ctx context.Context, root contentid.ID, base string) error {
	trail, err := (*ancestry)(nil).push(root, x.options.MaxDepth)
	if err != nil {
		return err
	}
	node, err := x.load(root, "")
	if err != nil {
		return x.handle(err, displayPath(base, ""), root)
	}
	relative := ""
	if _, isDirectory := node.(*dagnode.DirectoryNode); !isDirectory {
		relative = x.options.DefaultName
	}
	return x.emit(ctx, node, root, trail, relative, base)
}

// emit materializes node at the root-relative path under base. A
// directory at relative "" is the root itself. A nil node is a raw
// leaf resolved later by the worker that writes it.
func (x *extraction) emit(ctx context.Context, node dagnode.Node, id contentid.ID, trail *ancestry, relative, base string) error {
	switch n := node.(type) {
	case *dagnode.DirectoryNode:
		return x.emitDirectory(ctx, n, id, trail, relative, base)
	case *dagnode.Symlink:
		return x.handle(x.emitSymlink(n, relative, base), relative, id)
	default:
		return x.emitFile(ctx, node, id, trail, relative, base)
	}
}

func (x *extraction) emitDirectory(ctx context.Context, directory *dagnode.DirectoryNode, id contentid.ID, trail *ancestry, relative, base string) error {
	patternMode := x.options.Mode == ModePattern
	if patternMode && !x.pattern.CouldMatchBelow(relative) {
		return nil
	}
	// Pattern mode creates directories only on the way to a matching
	// file, so unselected subtrees leave nothing behind.
	if !patternMode {
		if err := x.mkdir(filepath.Join(base, filepath.FromSlash(relative))); err != nil {
			return err
		}
	}

	entries, err := x.entries(directory, trail, relative)
	if err != nil {
		return x.handle(err, displayPath(base, relative), id)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		childRelative := path.Join(relative, entry.Name)
		childTrail, err := trail.push(entry.ID, x.options.MaxDepth)
		if err != nil {
			return err
		}

		// Raw leaves are always files: hash and write them on a
		// worker instead of here.
		if entry.ID.Codec() == contentid.Raw {
			if err := x.emitFile(ctx, nil, entry.ID, childTrail, childRelative, base); err != nil {
				return err
			}
			continue
		}

		child, err := x.load(entry.ID, childRelative)
		if err != nil {
			if err := x.handle(err, childRelative, entry.ID); err != nil {
				return err
			}
			continue
		}
		if err := x.emit(ctx, child, entry.ID, childTrail, childRelative, base); err != nil {
			return err
		}
	}
	return nil
}

// entries returns a directory's entries, flattening HAMT sub-shards in
// stored order.
func (x *extraction) entries(directory *dagnode.DirectoryNode, trail *ancestry, relative string) ([]dagnode.Entry, error) {
	if !directory.Sharded {
		return directory.Entries, nil
	}
	var flattened []dagnode.Entry
	seen := make(map[string]struct{})
	var collect func(shard *dagnode.DirectoryNode, trail *ancestry) error
	collect = func(shard *dagnode.DirectoryNode, trail *ancestry) error {
		for _, entry := range shard.Entries {
			if !entry.ShardLink {
				if _, duplicate := seen[entry.Name]; duplicate {
					return carerr.New(carerr.MalformedNode, "sharded directory %q lists %q twice", relative, entry.Name)
				}
				seen[entry.Name] = struct{}{}
				flattened = append(flattened, entry)
				continue
			}
			subTrail, err := trail.push(entry.ID, x.options.MaxDepth)
			if err != nil {
				return err
			}
			node, err := x.load(entry.ID, relative)
			if err != nil {
				return err
			}
			subShard, ok := node.(*dagnode.DirectoryNode)
			if !ok || !subShard.Sharded {
				return carerr.New(carerr.MalformedNode, "HAMT link %s in %q is not a shard", entry.ID, relative)
			}
			if err := collect(subShard, subTrail); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(directory, trail); err != nil {
		return nil, err
	}
	return flattened, nil
}

// located is the result of an identifier search.
type located struct {
	node     dagnode.Node
	name     string
	ancestry *ancestry
}

// find searches the roots depth-first, in root order, for the first
// node named target. Every directory and file node on the way is
// loaded and verified; raw leaves other than the target are never read.
func (x *extraction) find(ctx context.Context, target contentid.ID) (*located, error) {
	exhausted := make(map[string]struct{})
	for _, root := range uniqueRoots(x.index.Header().Roots) {
		trail, err := (*ancestry)(nil).push(root, x.options.MaxDepth)
		if err != nil {
			return nil, err
		}
		found, err := x.search(ctx, target, root, "", trail, exhausted)
		if err != nil || found != nil {
			return found, err
		}
	}
	return nil, nil
}

func (x *extraction) search(ctx context.Context, target, id contentid.ID, name string, trail *ancestry, exhausted map[string]struct{}) (*located, error) {
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if _, ok := exhausted[id.Key()]; ok {
		return nil, nil
	}
	isTarget := id.Equal(target)
	// Raw leaves have no links, so only the target itself is worth
	// loading.
	if !isTarget && id.Codec() == contentid.Raw {
		exhausted[id.Key()] = struct{}{}
		return nil, nil
	}
	node, err := x.load(id, name)
	if err != nil {
		return nil, err
	}
	if isTarget {
		return &located{node: node, name: name, ancestry: trail}, nil
	}

	switch n := node.(type) {
	case *dagnode.DirectoryNode:
		entries, err := x.entries(n, trail, name)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			childTrail, err := trail.push(entry.ID, x.options.MaxDepth)
			if err != nil {
				return nil, err
			}
			found, err := x.search(ctx, target, entry.ID, entry.Name, childTrail, exhausted)
			if err != nil || found != nil {
				return found, err
			}
		}
	case *dagnode.FileNode:
		for _, chunk := range n.Chunks {
			childTrail, err := trail.push(chunk.ID, x.options.MaxDepth)
			if err != nil {
				return nil, err
			}
			found, err := x.search(ctx, target, chunk.ID, "", childTrail, exhausted)
			if err != nil || found != nil {
				return found, err
			}
		}
	}
	exhausted[id.Key()] = struct{}{}
	return nil, nil
}

// displayPath names a root-relative path in failures. The root itself
// is shown as the base directory's name.
func displayPath(base, relative string) string {
	if relative == "" {
		return filepath.Base(base)
	}
	return relative
}
