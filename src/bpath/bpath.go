// Package bpath canonicalizes and validates filesystem paths before they
// reach the VFS mount table. It mirrors the role the teacher's fd.Cwd_t
// expects of a "bpath" package (see fd/fd.go's Canonicalpath, which calls
// bpath.Canonicalize on the joined cwd+path string) but the canonicalizer
// itself was not part of the retrieved slice, so it is built fresh here
// against §4.L's contract: no ".", no "..", no doubled slashes, always
// absolute.
package bpath

import "sabos/src/ustr"

// Canonicalize rewrites p (assumed already joined with a base if relative)
// into an absolute, normalized path: doubled slashes collapsed, "."
// components dropped, ".." components pop the preceding component. A ".."
// at the root is dropped rather than treated as an error; ValidateRelative
// is the check that rejects such paths.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := p.Split()
	out := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Isdot():
			continue
		case part.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, part := range out {
		ret = append(ret, '/')
		ret = append(ret, part...)
	}
	return ret
}

// ValidateRelative rejects any path that is absolute or contains a ".."
// component. handle.Openat does not call it; it performs its own checks.
func ValidateRelative(p ustr.Ustr) bool {
	if p.IsAbsolute() {
		return false
	}
	return !p.HasTraversal()
}

// Join concatenates a directory path and a validated relative child,
// producing a normalized absolute path.
func Join(dir, rel ustr.Ustr) ustr.Ustr {
	return Canonicalize(dir.Extend(rel))
}
