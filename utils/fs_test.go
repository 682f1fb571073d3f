package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileOperations_DeleteWithRetry(t *testing.T) {
	fileOps := NewFileOperations()

	t.Run("deletes_existing_file", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		path := filepath.Join(tempDir, "video.mp4")
		if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		err = fileOps.DeleteWithRetry(context.Background(), path, 3, time.Millisecond)
		if err != nil {
			t.Fatalf("DeleteWithRetry failed: %v", err)
		}

		if fileOps.FileExists(path) {
			t.Error("File should be gone after DeleteWithRetry")
		}
	})

	t.Run("missing_file_is_success", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		path := filepath.Join(tempDir, "never-existed.mp4")

		err = fileOps.DeleteWithRetry(context.Background(), path, 3, time.Millisecond)
		if err != nil {
			t.Errorf("Deleting a missing file should succeed, got: %v", err)
		}
	})

	t.Run("empty_path_is_noop", func(t *testing.T) {
		err := fileOps.DeleteWithRetry(context.Background(), "", 3, time.Millisecond)
		if err != nil {
			t.Errorf("Empty path should be a no-op, got: %v", err)
		}
	})

	t.Run("gives_up_after_max_attempts", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		// A non-empty directory cannot be removed with os.Remove
		blocked := filepath.Join(tempDir, "dir")
		if err := os.MkdirAll(filepath.Join(blocked, "child"), 0755); err != nil {
			t.Fatalf("Failed to create nested dir: %v", err)
		}

		err = fileOps.DeleteWithRetry(context.Background(), blocked, 2, time.Millisecond)
		if err == nil {
			t.Error("Expected error when deletion keeps failing")
		}
	})

	t.Run("respects_context_cancellation", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		blocked := filepath.Join(tempDir, "dir")
		if err := os.MkdirAll(filepath.Join(blocked, "child"), 0755); err != nil {
			t.Fatalf("Failed to create nested dir: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = fileOps.DeleteWithRetry(ctx, blocked, 3, time.Second)
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	})
}

func TestFileOperations_SanitizeFileName(t *testing.T) {
	fileOps := NewFileOperations()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain_name", "video.mp4", "video.mp4"},
		{"path_traversal", "../../etc/passwd", "passwd"},
		{"windows_separators", `movie\part1.mkv`, "movie_part1.mkv"},
		{"reserved_characters", `what?.mp4`, "what_.mp4"},
		{"control_characters", "bad\x00name\x1f.mp4", "badname.mp4"},
		{"surrounding_whitespace", "  clip.mp4  ", "clip.mp4"},
		{"dot_only", ".", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := fileOps.SanitizeFileName(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFileOperations_CreateFile(t *testing.T) {
	fileOps := NewFileOperations()

	t.Run("creates_file_and_parent_dir", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		path := filepath.Join(tempDir, "downloads", "video.mp4")

		file, err := fileOps.CreateFile(path)
		if err != nil {
			t.Fatalf("CreateFile failed: %v", err)
		}
		file.Close()

		if !fileOps.FileExists(path) {
			t.Error("File should exist after CreateFile")
		}
	})

	t.Run("truncates_existing_file", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		path := filepath.Join(tempDir, "video.mp4")
		if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
			t.Fatalf("Failed to create existing file: %v", err)
		}

		file, err := fileOps.CreateFile(path)
		if err != nil {
			t.Fatalf("CreateFile failed: %v", err)
		}
		file.Close()

		size, err := fileOps.GetFileSize(path)
		if err != nil {
			t.Fatalf("Failed to stat file: %v", err)
		}
		if size != 0 {
			t.Errorf("Expected truncated file, got size %d", size)
		}
	})
}

func TestFileOperations_ExistingMethods(t *testing.T) {
	fileOps := NewFileOperations()

	t.Run("ensure_dir", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		testPath := filepath.Join(tempDir, "subdir", "test.txt")

		err = fileOps.EnsureDir(testPath)
		if err != nil {
			t.Fatalf("Failed to ensure directory: %v", err)
		}

		// Verify directory was created
		dirPath := filepath.Dir(testPath)
		if _, err := os.Stat(dirPath); os.IsNotExist(err) {
			t.Errorf("Directory was not created: %s", dirPath)
		}
	})

	t.Run("file_exists", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		testPath := filepath.Join(tempDir, "test.txt")

		// File should not exist initially
		if fileOps.FileExists(testPath) {
			t.Errorf("File should not exist initially")
		}

		// Create file
		err = os.WriteFile(testPath, []byte("test"), 0644)
		if err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		// File should exist now
		if !fileOps.FileExists(testPath) {
			t.Errorf("File should exist after creation")
		}
	})

	t.Run("get_file_size", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		testPath := filepath.Join(tempDir, "test.txt")
		testData := make([]byte, 1024)

		err = os.WriteFile(testPath, testData, 0644)
		if err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		size, err := fileOps.GetFileSize(testPath)
		if err != nil {
			t.Fatalf("Failed to get file size: %v", err)
		}

		if size != 1024 {
			t.Errorf("Expected file size 1024, got %d", size)
		}
	})

	t.Run("atomic_rename", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "terabot_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tempDir)

		oldPath := filepath.Join(tempDir, "old.txt")
		newPath := filepath.Join(tempDir, "new.txt")
		testData := []byte("test content")

		err = os.WriteFile(oldPath, testData, 0644)
		if err != nil {
			t.Fatalf("Failed to create source file: %v", err)
		}

		err = fileOps.AtomicRename(oldPath, newPath)
		if err != nil {
			t.Fatalf("Failed to rename file: %v", err)
		}

		// Verify old file is gone
		if fileOps.FileExists(oldPath) {
			t.Errorf("Old file should not exist after rename")
		}

		// Verify new file exists with correct content
		if !fileOps.FileExists(newPath) {
			t.Errorf("New file should exist after rename")
		}

		content, err := os.ReadFile(newPath)
		if err != nil {
			t.Fatalf("Failed to read renamed file: %v", err)
		}

		if string(content) != string(testData) {
			t.Errorf("File content mismatch after rename")
		}
	})
}
