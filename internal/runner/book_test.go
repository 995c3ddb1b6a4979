package runner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBook(t *testing.T) {
	t.Parallel()

	b := newBook()
	require.Zero(t, b.size())

	b.add(&RunningJob{Path: "/jobs/a.sh", PID: 11})
	b.add(&RunningJob{Path: "/jobs/b.sh", PID: 22})
	require.Equal(t, 2, b.size())
	require.ElementsMatch(t, []int{11, 22}, b.pids())
	require.ElementsMatch(t, []string{"/jobs/a.sh", "/jobs/b.sh"}, b.paths())

	j, ok := b.remove(11)
	require.True(t, ok)
	require.Equal(t, "/jobs/a.sh", j.Path)
	require.Equal(t, 1, b.size())

	_, ok = b.remove(11)
	require.False(t, ok)
}
