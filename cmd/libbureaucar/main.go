// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Libbureaucar builds the CAR extraction entry points as a C shared
// library:
//
//	go build -buildmode=c-shared -o libbureaucar.so ./cmd/libbureaucar
//
// The generated header declares:
//
//	bool extract_all_car(const char *car_path, const char *output_path);
//	bool extract_file_car(const char *car_path, const char *filter_file_pattern, const char *output_path);
//	bool extract_verified_by_cid_from_car(const char *car_path, const char *cid, const char *output_path);
//
// Each returns true on complete success. Failures are logged to stderr
// as JSON lines; the caller keeps ownership of every string argument.
package main

/*
#include <stdbool.h>
*/
import "C"

import (
	"log/slog"
	"os"

	"github.com/bureau-foundation/carextract/lib/carapi"
)

func init() {
	carapi.Logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("library", "libbureaucar")
}

//export extract_all_car
func extract_all_car(carPath, outputPath *C.char) C.bool {
	if carPath == nil || outputPath == nil {
		return false
	}
	return C.bool(carapi.ExtractAll(C.GoString(carPath), C.GoString(outputPath)))
}

//export extract_file_car
func extract_file_car(carPath, filterFilePattern, outputPath *C.char) C.bool {
	if carPath == nil || filterFilePattern == nil || outputPath == nil {
		return false
	}
	return C.bool(carapi.ExtractByPattern(C.GoString(carPath), C.GoString(filterFilePattern), C.GoString(outputPath)))
}

//export extract_verified_by_cid_from_car
func extract_verified_by_cid_from_car(carPath, cid, outputPath *C.char) C.bool {
	if carPath == nil || cid == nil || outputPath == nil {
		return false
	}
	return C.bool(carapi.ExtractVerifiedByIdentifier(C.GoString(carPath), C.GoString(cid), C.GoString(outputPath)))
}

// main is required by -buildmode=c-shared and never runs.
func main() {}
