package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/model"
)

// newTestUserDB returns a *UserDB backed by a fresh in-memory DB.
func newTestUserDB(t *testing.T) (*DB, *UserDB) {
	t.Helper()
	db := newTestDB(t)
	return db, db.Users()
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, u *UserDB, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, FirstName: "Test", IsActive: true}
	if err := u.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func strPtr(s string) *string { return &s }

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	_, u := newTestUserDB(t)

	user := &model.User{Email: "test@example.com", Phone: strPtr("+79991234567")}
	if err := u.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if user.ID == "" {
		t.Error("CreateUser() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "dup@example.com")

	err := u.CreateUser(context.Background(), &model.User{Email: "dup@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateUser() duplicate email error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "email" {
		t.Errorf("Field = %q, want email", appErr.Field)
	}
}

func TestUserCreate_DuplicatePhone(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()

	if err := u.CreateUser(ctx, &model.User{Email: "a@example.com", Phone: strPtr("+79991234567")}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	err := u.CreateUser(ctx, &model.User{Email: "b@example.com", Phone: strPtr("+79991234567")})

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Field != "phone" {
		t.Fatalf("CreateUser() duplicate phone error = %v, want phone conflict", err)
	}
}

func TestUserCreate_ManyWithoutPhone(t *testing.T) {
	// phone is UNIQUE but NULLs never collide.
	_, u := newTestUserDB(t)
	createTestUser(t, u, "one@example.com")
	createTestUser(t, u, "two@example.com")
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestUserGetByIDAndEmail(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()
	created := createTestUser(t, u, "find@example.com")

	byID, err := u.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if byID.Email != "find@example.com" || !byID.IsActive {
		t.Errorf("GetUserByID() = %+v", byID)
	}
	if byID.Phone != nil {
		t.Errorf("Phone = %v, want nil", *byID.Phone)
	}

	byEmail, err := u.GetUserByEmail(ctx, "find@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("GetUserByEmail() ID = %q, want %q", byEmail.ID, created.ID)
	}
}

func TestUserGet_NotFound(t *testing.T) {
	_, u := newTestUserDB(t)

	if _, err := u.GetUserByID(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
	if _, err := u.GetUserByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByEmail() error = %v, want ErrNotFound", err)
	}
}

func TestPhoneInUse(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()
	if err := u.CreateUser(ctx, &model.User{Email: "p@example.com", Phone: strPtr("+79990000001")}); err != nil {
		t.Fatal(err)
	}

	used, err := u.PhoneInUse(ctx, "+79990000001")
	if err != nil || !used {
		t.Errorf("PhoneInUse(taken) = %v, %v", used, err)
	}
	used, err = u.PhoneInUse(ctx, "+79990000002")
	if err != nil || used {
		t.Errorf("PhoneInUse(free) = %v, %v", used, err)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdateProfile_Partial(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()
	user := &model.User{Email: "x@example.com", FirstName: "Old", LastName: "Keep"}
	if err := u.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	if err := u.UpdateProfile(ctx, user.ID, model.ProfileUpdate{FirstName: strPtr("New")}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	got, _ := u.GetUserByID(ctx, user.ID)
	if got.FirstName != "New" || got.LastName != "Keep" {
		t.Errorf("after UpdateProfile: first=%q last=%q", got.FirstName, got.LastName)
	}
}

func TestUpdateProfile_EmptyIsNoop(t *testing.T) {
	_, u := newTestUserDB(t)
	if err := u.UpdateProfile(context.Background(), "whatever", model.ProfileUpdate{}); err != nil {
		t.Errorf("empty UpdateProfile() error = %v", err)
	}
}

func TestUpdateProfile_NotFound(t *testing.T) {
	_, u := newTestUserDB(t)
	err := u.UpdateProfile(context.Background(), "missing", model.ProfileUpdate{LastName: strPtr("x")})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateProfile() error = %v, want ErrNotFound", err)
	}
}

func TestActivateAndTouchLastLogin(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()
	user := &model.User{Email: "new@example.com", IsActive: false}
	if err := u.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	if err := u.Activate(ctx, user.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := u.TouchLastLogin(ctx, user.ID); err != nil {
		t.Fatalf("TouchLastLogin() error = %v", err)
	}

	got, _ := u.GetUserByID(ctx, user.ID)
	if !got.IsActive {
		t.Error("user should be active")
	}
	if got.LastLogin == nil {
		t.Error("LastLogin should be set")
	}
}

func TestDeleteUser(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()
	user := createTestUser(t, u, "gone@example.com")

	if err := u.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := u.GetUserByID(ctx, user.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := u.DeleteUser(ctx, user.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second DeleteUser() error = %v, want ErrNotFound", err)
	}
}
