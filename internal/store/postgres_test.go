// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permsync/permsync/internal/perm"
	"github.com/permsync/permsync/pkg/errutil"
)

func TestPostgres_GroupRows(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      []perm.GroupRecord
		wantErr   bool
	}{
		{
			name: "groups with and without permissions",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				id1, id2 := 1, 2
				name1, name2 := "default", "vip"
				prio1, prio2 := 0, 10
				rows := pgxmock.NewRows([]string{"id", "name", "priority", "permission", "value"}).
					AddRow(&id1, &name1, &prio1, "spawn.use", true).
					AddRow(&id1, &name1, &prio1, "chat.color", false).
					AddRow(&id2, &name2, &prio2, "", false)
				mock.ExpectQuery(`SELECT e.id, e.name, e.priority`).
					WillReturnRows(rows)
			},
			want: []perm.GroupRecord{
				{ID: 1, Name: "default", Priority: 0, Node: "spawn.use", Value: true},
				{ID: 1, Name: "default", Priority: 0, Node: "chat.color", Value: false},
				{ID: 2, Name: "vip", Priority: 10, Node: "", Value: false},
			},
		},
		{
			name: "malformed row skipped",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				id := 1
				name := "default"
				prio := 0
				rows := pgxmock.NewRows([]string{"id", "name", "priority", "permission", "value"}).
					AddRow(nil, nil, nil, "orphan.node", true).
					AddRow(&id, &name, &prio, "spawn.use", true)
				mock.ExpectQuery(`SELECT e.id, e.name, e.priority`).
					WillReturnRows(rows)
			},
			want: []perm.GroupRecord{
				{ID: 1, Name: "default", Priority: 0, Node: "spawn.use", Value: true},
			},
		},
		{
			name: "query error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT e.id, e.name, e.priority`).
					WillReturnError(errors.New("relation does not exist"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			s := NewWithPool(mock)
			got, err := s.GroupRows(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, CodeQueryFailed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgres_InheritanceRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	child, parent := "vip", "default"
	rows := pgxmock.NewRows([]string{"child", "parent"}).
		AddRow(&child, &parent).
		AddRow(nil, &parent) // malformed, skipped
	mock.ExpectQuery(`SELECT child.name, parent.name`).WillReturnRows(rows)

	s := NewWithPool(mock)
	got, err := s.InheritanceRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []perm.InheritanceRecord{{Child: "vip", Parent: "default"}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PlayerGroupNames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	player := ulid.Make()
	rows := pgxmock.NewRows([]string{"name"}).
		AddRow("default").
		AddRow("vip")
	mock.ExpectQuery(`SELECT e.name`).
		WithArgs(player.String()).
		WillReturnRows(rows)

	s := NewWithPool(mock)
	got, err := s.PlayerGroupNames(context.Background(), player)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "vip"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PlayerOverrides(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	player := ulid.Make()
	fly := "command.fly"
	rows := pgxmock.NewRows([]string{"permission", "value"}).
		AddRow(&fly, true)
	mock.ExpectQuery(`SELECT en.permission, en.value`).
		WithArgs(player.String()).
		WillReturnRows(rows)

	s := NewWithPool(mock)
	got, err := s.PlayerOverrides(context.Background(), player)
	require.NoError(t, err)
	assert.Equal(t, []perm.Permission{{Node: "command.fly", Value: true}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GroupPermissions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	node := "spawn.use"
	empty := ""
	rows := pgxmock.NewRows([]string{"permission", "value"}).
		AddRow(&node, true).
		AddRow(&empty, true) // malformed, skipped
	mock.ExpectQuery(`SELECT en.permission, en.value`).
		WithArgs("default").
		WillReturnRows(rows)

	s := NewWithPool(mock)
	got, err := s.GroupPermissions(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, []perm.Permission{{Node: "spawn.use", Value: true}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Seed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO entities`).
		WithArgs("default", 0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs(1, "spawn.use", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO entities`).
		WithArgs("vip", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO inheritances`).
		WithArgs(2, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	s := NewWithPool(mock)
	err = s.Seed(context.Background(), []SeedGroup{
		{Name: "default", Priority: 0, Permissions: []perm.Permission{{Node: "spawn.use", Value: true}}},
		{Name: "vip", Priority: 10, Parent: "default"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Seed_UnknownParent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO entities`).
		WithArgs("vip", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	s := NewWithPool(mock)
	err = s.Seed(context.Background(), []SeedGroup{
		{Name: "vip", Priority: 10, Parent: "missing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
