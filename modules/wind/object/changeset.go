// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
)

// DateFormat is the timestamp layout String() uses for human-readable log
// output.
const DateFormat = "Mon Jan 02 15:04:05 2006 -0700"

// Signature identifies who produced a Changeset and when.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

var timeZoneLength = 5

func (s *Signature) decodeTimeAndTimeZone(b []byte) {
	space := bytes.IndexByte(b, ' ')
	if space == -1 {
		space = len(b)
	}
	ts, err := strconv.ParseInt(string(b[:space]), 10, 64)
	if err != nil {
		return
	}
	s.When = time.Unix(ts, 0).In(time.UTC)
	tzStart := space + 1
	if tzStart >= len(b) || tzStart+timeZoneLength > len(b) {
		return
	}
	timezone := string(b[tzStart : tzStart+timeZoneLength])
	tzhours, err1 := strconv.ParseInt(timezone[0:3], 10, 64)
	tzmins, err2 := strconv.ParseInt(timezone[3:], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	if tzhours < 0 {
		tzmins *= -1
	}
	s.When = s.When.In(time.FixedZone("", int(tzhours*60*60+tzmins*60)))
}

// Decode parses the "Name <email> epoch tz" form written by String.
func (s *Signature) Decode(b []byte) {
	open := bytes.LastIndexByte(b, '<')
	closeIdx := bytes.LastIndexByte(b, '>')
	if open == -1 || closeIdx == -1 || closeIdx < open {
		s.Name = "unknown"
		s.Email = "unknown@localhost"
		return
	}
	s.Name = string(bytes.Trim(b[:open], " "))
	s.Email = string(b[open+1 : closeIdx])
	if s.Name == "" {
		s.Name = "unknown"
	}
	if closeIdx+2 < len(b) {
		s.decodeTimeAndTimeZone(b[closeIdx+2:])
	}
}

func (s *Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// ChangeKind is the discriminant of a FileChange, mirroring the four ways a
// NodeID's state can move between two changesets.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

func parseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "added":
		return Added, nil
	case "modified":
		return Modified, nil
	case "deleted":
		return Deleted, nil
	case "renamed":
		return Renamed, nil
	default:
		return 0, fmt.Errorf("changeset: unknown change kind %q", s)
	}
}

// FileChange records what happened to one NodeID between a changeset and its
// first parent. Path is the NodeID's path after the change; OldPath is only
// meaningful for Renamed. OID is the blob OID after the change and is the
// zero OID for Deleted.
type FileChange struct {
	Kind        ChangeKind
	Path        string
	OldPath     string
	OID         oid.OID
	Permissions uint32
}

// Changeset is the immutable, content-addressed record of one commit-like
// step in a branch's history. Unlike a git Commit it
// does not point at a hierarchical Tree; instead it names the NodeID-keyed
// delta that produced it plus the resulting root Manifest, so that clients
// which only need "what changed" never have to diff two manifests.
type Changeset struct {
	hash         oid.OID
	Parents      []oid.OID
	RootManifest oid.OID
	Changes      map[nodeid.NodeID]FileChange
	Message      string
	Author       Signature
	b            Backend
}

func NewChangeset() *Changeset {
	return &Changeset{Changes: make(map[nodeid.NodeID]FileChange)}
}

func (c *Changeset) Hash() oid.OID { return c.hash }

func (c *Changeset) IsRoot() bool { return len(c.Parents) == 0 }

func (c *Changeset) Subject() string {
	if i := strings.IndexAny(c.Message, "\r\n"); i != -1 {
		return c.Message[:i]
	}
	return c.Message
}

// Root resolves and returns this changeset's root Manifest.
func (c *Changeset) Root(ctx context.Context) (*Manifest, error) {
	if c.b == nil {
		return nil, fmt.Errorf("changeset: no backend attached")
	}
	return c.b.Manifest(ctx, c.RootManifest)
}

// FirstParent resolves this changeset's first parent, if any.
func (c *Changeset) FirstParent(ctx context.Context) (*Changeset, error) {
	if len(c.Parents) == 0 {
		return nil, nil
	}
	if c.b == nil {
		return nil, fmt.Errorf("changeset: no backend attached")
	}
	return c.b.Changeset(ctx, c.Parents[0])
}

func (c *Changeset) String() string {
	return fmt.Sprintf("changeset %s\nAuthor: %s\nDate:   %s\n\n    %s\n",
		c.hash, c.Author.String(), c.Author.When.Format(DateFormat), c.Message)
}

// sortedNodeIDs returns the changeset's NodeIDs in a fixed, deterministic
// order so the encoded form (and thus the hash) doesn't depend on map
// iteration order.
func (c *Changeset) sortedNodeIDs() []nodeid.NodeID {
	ids := make([]nodeid.NodeID, 0, len(c.Changes))
	for id := range c.Changes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (c *Changeset) Encode(w io.Writer) error {
	if _, err := w.Write(changesetMagic[:]); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "root %s\n", c.RootManifest.String()); err != nil {
		return err
	}
	for _, p := range c.Parents {
		if _, err := fmt.Fprintf(bw, "parent %s\n", p.String()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "author %s\n", c.Author.String()); err != nil {
		return err
	}
	for _, id := range c.sortedNodeIDs() {
		ch := c.Changes[id]
		// Paths go last (tab-separated when a rename carries two) so that
		// spaces inside a path never shift the fixed-width fields before it.
		if _, err := fmt.Fprintf(bw, "change %s %s %o %s %s",
			ch.Kind.String(), id.String(), ch.Permissions, ch.OID.String(), ch.Path); err != nil {
			return err
		}
		if ch.OldPath != "" {
			if _, err := fmt.Fprintf(bw, "\t%s", ch.OldPath); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "\n%s", c.Message); err != nil {
		return err
	}
	return bw.Flush()
}

func (c *Changeset) decodeBody(r io.Reader) error {
	c.Changes = make(map[nodeid.NodeID]FileChange)
	br := bufio.NewReader(r)
	var message strings.Builder
	finishedHeaders := false
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		text := strings.TrimSuffix(line, "\n")
		if !finishedHeaders {
			if text == "" {
				finishedHeaders = true
				if readErr == io.EOF {
					break
				}
				continue
			}
			fields := strings.SplitN(text, " ", 2)
			if len(fields) != 2 {
				return fmt.Errorf("changeset: malformed header line %q", text)
			}
			switch fields[0] {
			case "root":
				id, err := oid.NewEx(fields[1])
				if err != nil {
					return fmt.Errorf("changeset: root: %w", err)
				}
				c.RootManifest = id
			case "parent":
				id, err := oid.NewEx(fields[1])
				if err != nil {
					return fmt.Errorf("changeset: parent: %w", err)
				}
				c.Parents = append(c.Parents, id)
			case "author":
				c.Author.Decode([]byte(fields[1]))
			case "change":
				cf := strings.SplitN(fields[1], " ", 5)
				if len(cf) != 5 {
					return fmt.Errorf("changeset: malformed change line %q", text)
				}
				kind, err := parseChangeKind(cf[0])
				if err != nil {
					return err
				}
				id, err := nodeid.Parse(cf[1])
				if err != nil {
					return fmt.Errorf("changeset: %w", err)
				}
				perm, err := strconv.ParseUint(cf[2], 8, 32)
				if err != nil {
					return fmt.Errorf("changeset: bad permissions in %q: %w", text, err)
				}
				contentOID, err := oid.NewEx(cf[3])
				if err != nil {
					return fmt.Errorf("changeset: %w", err)
				}
				path, oldPath, _ := strings.Cut(cf[4], "\t")
				c.Changes[id] = FileChange{
					Kind:        kind,
					Path:        path,
					OldPath:     oldPath,
					OID:         contentOID,
					Permissions: uint32(perm),
				}
			default:
				return fmt.Errorf("changeset: unknown header %q", fields[0])
			}
		} else {
			message.WriteString(line)
		}
		if readErr == io.EOF {
			break
		}
	}
	c.Message = message.String()
	return nil
}
