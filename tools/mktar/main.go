// Command mktar assembles the USTAR image tar.Lookup reads at runtime
// (§6 TAR) from a build-time directory tree -- the init program binary
// plus whatever other files init needs -- external to the kernel binary
// itself, part of the image-build pipeline boot.Archive()'s bytes come
// from.
//
// Unlike the standard archive/tar writer (general-purpose, handles
// every POSIX field this kernel's minimal reader ignores), mktar emits
// exactly the USTAR subset tar.Lookup parses: a NUL-padded 100-byte
// name, an octal size field, and a single '0' typeflag, followed by the
// file's data padded to a 512-byte boundary, terminated by one
// all-zero header block. Each input file's MD5 (the same digest
// boot-time kernel verification uses, §6) is computed concurrently via
// an errgroup-bounded worker pool and logged, so a build can diff two
// images' member hashes without re-reading the archive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gerben-stavenga/RetroOS/md5"
)

const blockSize = 512

type member struct {
	name string
	path string
	size int64
	sum  [md5.Size]byte
}

func collect(dir string) ([]member, error) {
	var members []member
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if len(rel) >= 100 {
			return fmt.Errorf("%s: name too long for a 100-byte USTAR name field", rel)
		}
		members = append(members, member{name: rel, path: path, size: info.Size()})
		return nil
	})
	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })
	return members, err
}

// hashAll computes each member's MD5 concurrently, bounded to
// runtime.NumCPU workers via errgroup.SetLimit -- build-time hashing of
// a handful of small init-filesystem files is not where this tool's
// time goes, but it is the natural place in the pipeline to exercise
// bounded fan-out over independent files the way a larger image build
// (many init programs, not just one) would need to.
func hashAll(members []member) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range members {
		i := i
		g.Go(func() error {
			data, err := os.ReadFile(members[i].path)
			if err != nil {
				return err
			}
			md5.Compute(data, &members[i].sum)
			return nil
		})
	}
	return g.Wait()
}

func octal(n int64, width int) []byte {
	s := fmt.Sprintf("%0*o", width-1, n)
	buf := make([]byte, width)
	copy(buf, s)
	return buf
}

func writeHeader(w *os.File, m member) error {
	var hdr [blockSize]byte
	copy(hdr[0:100], m.name)
	copy(hdr[124:136], octal(m.size, 12))
	hdr[156] = '0' // typeflag: regular file
	_, err := w.Write(hdr[:])
	return err
}

func writeMember(w *os.File, m member) error {
	if err := writeHeader(w, m); err != nil {
		return err
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	pad := (blockSize - len(data)%blockSize) % blockSize
	if pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	dir := flag.String("dir", "", "directory tree to archive")
	out := flag.String("out", "", "output USTAR image path")
	flag.Parse()
	if *dir == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: mktar -dir <tree> -out <image.tar>")
		os.Exit(2)
	}

	members, err := collect(*dir)
	if err != nil {
		log.Fatal(err)
	}
	if len(members) == 0 {
		log.Fatalf("%s: no files found", *dir)
	}
	if err := hashAll(members); err != nil {
		log.Fatal(err)
	}

	w, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()

	for _, m := range members {
		if err := writeMember(w, m); err != nil {
			log.Fatalf("writing %s: %v", m.name, err)
		}
		fmt.Printf("%s  %x  %d bytes\n", m.name, m.sum, m.size)
	}
	if _, err := w.Write(make([]byte, blockSize)); err != nil {
		log.Fatal(err)
	}
}
