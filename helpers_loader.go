// calltips/helpers_loader.go
// Contains helper functions specifically for loading packages using go/packages.
package calltips

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"log/slog"
	"path/filepath"

	"golang.org/x/tools/go/packages"
)

// loadedPackage is the type-checked package containing a target file.
type loadedPackage struct {
	Pkg    *packages.Package
	File   *ast.File
	Tok    *token.File
	Fset   *token.FileSet
	Errors []error // Package-level errors; type errors do not prevent resolution.
}

// loadPackageAndFile loads the package containing absFilename, using overlay for open buffers,
// and returns the package together with the type-checked syntax of that file.
func loadPackageAndFile(
	ctx context.Context,
	absFilename string,
	overlay map[string][]byte,
	logger *slog.Logger,
) (*loadedPackage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(absFilename)
	logger = logger.With("loadDir", dir)

	fset := token.NewFileSet()
	loadCfg := &packages.Config{
		Context: ctx,
		Dir:     dir,
		Fset:    fset,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedTypes | packages.NeedTypesSizes |
			packages.NeedSyntax | packages.NeedTypesInfo,
		Tests:   false,
		Overlay: overlay,
		Logf:    func(format string, args ...interface{}) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	logger.Debug("Calling packages.Load", "overlay_files", len(overlay))
	pkgs, err := packages.Load(loadCfg, fmt.Sprintf("file=%s", absFilename))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Warn("packages.Load failed", "error", err)
		return nil, fmt.Errorf("%w: packages.Load: %w", ErrResolveFailed, err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%w: no package contains %s", ErrResolveFailed, absFilename)
	}

	result := &loadedPackage{Fset: fset}
	for _, p := range pkgs {
		if p == nil {
			continue
		}
		for i := range p.Errors {
			pkgErr := p.Errors[i]
			result.Errors = append(result.Errors, &pkgErr)
			logger.Debug("Package loading error encountered", "package", p.PkgPath, "error", pkgErr.Error())
		}
		if result.Pkg != nil {
			continue
		}
		for _, astFile := range p.Syntax {
			if astFile == nil {
				continue
			}
			filePos := fset.Position(astFile.Pos())
			if !filePos.IsValid() {
				continue
			}
			astFilePath, _ := filepath.Abs(filePos.Filename)
			if astFilePath == absFilename {
				result.Pkg = p
				result.File = astFile
				result.Tok = fset.File(astFile.Pos())
				break
			}
		}
	}

	if result.Pkg == nil || result.Tok == nil {
		return nil, fmt.Errorf("%w: %s not found in loaded package syntax", ErrResolveFailed, absFilename)
	}
	if result.Pkg.TypesInfo == nil || result.Pkg.Types == nil {
		return nil, fmt.Errorf("%w: no type information for package %s", ErrResolveFailed, result.Pkg.PkgPath)
	}
	logger.Debug("Loaded target package", "package", result.Pkg.PkgPath, "errors", len(result.Errors))
	return result, nil
}
