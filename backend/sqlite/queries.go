package sqlite

const (
	insertInstanceSQL = `INSERT OR IGNORE INTO Instances
		([Name], [Version], [InstanceID], [ExecutionID], [Input], [RuntimeStatus], [CreatedTime])
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectInstanceStatusSQL = `SELECT [RuntimeStatus] FROM Instances WHERE [InstanceID] = ?`

	selectInstanceSQL = `SELECT [InstanceID], [Name], [Version], [RuntimeStatus], [CreatedTime],
		[LastUpdatedTime], [Input], [Output], [CustomStatus], [FailureDetails]
		FROM Instances WHERE [InstanceID] = ?`

	deleteInstanceSQL          = `DELETE FROM Instances WHERE [InstanceID] = ?`
	deleteCompletedInstanceSQL = `DELETE FROM Instances WHERE [InstanceID] = ?
		AND [RuntimeStatus] IN ('COMPLETED', 'FAILED', 'TERMINATED')`

	// lockInstanceSQL claims one unlocked instance that has at least one visible inbox message.
	lockInstanceSQL = `UPDATE Instances SET [LockedBy] = ?, [LockExpiration] = ?
		WHERE [rowid] = (
			SELECT I.[rowid] FROM Instances I
			WHERE (I.[LockExpiration] IS NULL OR I.[LockExpiration] < ?)
			AND EXISTS (
				SELECT 1 FROM Inbox M
				WHERE M.[InstanceID] = I.[InstanceID] AND (M.[VisibleTime] IS NULL OR M.[VisibleTime] < ?)
			)
			LIMIT 1
		) RETURNING [InstanceID]`

	unlockInstanceSQL = `UPDATE Instances SET [LockedBy] = NULL, [LockExpiration] = NULL
		WHERE [InstanceID] = ? AND [LockedBy] = ?`

	selectHistorySQL = `SELECT [EventPayload] FROM History WHERE [InstanceID] = ? ORDER BY [SequenceNumber]`
	deleteHistorySQL = `DELETE FROM History WHERE [InstanceID] = ?`

	enqueueInboxSQL = `INSERT INTO Inbox ([InstanceID], [EventPayload], [VisibleTime]) VALUES (?, ?, ?)`

	lockInboxSQL = `UPDATE Inbox SET [DequeueCount] = [DequeueCount] + 1, [LockedBy] = ?
		WHERE rowid IN (
			SELECT rowid FROM Inbox
			WHERE [InstanceID] = ? AND ([VisibleTime] IS NULL OR [VisibleTime] <= ?)
			ORDER BY [SequenceNumber]
			LIMIT 1000
		) RETURNING [SequenceNumber], [EventPayload], [DequeueCount]`

	releaseInboxSQL = `UPDATE Inbox SET [LockedBy] = NULL, [VisibleTime] = ?
		WHERE [InstanceID] = ? AND [LockedBy] = ?`
	consumeInboxSQL = `DELETE FROM Inbox WHERE [InstanceID] = ? AND [LockedBy] = ?`
	clearInboxSQL   = `DELETE FROM Inbox WHERE [InstanceID] = ?`

	enqueueActivitySQL = `INSERT INTO ActivityQueue ([InstanceID], [EventPayload]) VALUES (?, ?)`

	lockActivitySQL = `UPDATE ActivityQueue
		SET [LockedBy] = ?, [LockExpiration] = ?, [DequeueCount] = [DequeueCount] + 1
		WHERE [SequenceNumber] = (
			SELECT [SequenceNumber] FROM ActivityQueue
			WHERE [LockExpiration] IS NULL OR [LockExpiration] < ?
			ORDER BY [SequenceNumber]
			LIMIT 1
		) RETURNING [SequenceNumber], [InstanceID], [EventPayload]`

	releaseActivitySQL = `UPDATE ActivityQueue SET [LockedBy] = NULL, [LockExpiration] = NULL
		WHERE [SequenceNumber] = ? AND [LockedBy] = ?`
	consumeActivitySQL = `DELETE FROM ActivityQueue WHERE [SequenceNumber] = ? AND [LockedBy] = ?`
	clearActivitiesSQL = `DELETE FROM ActivityQueue WHERE [InstanceID] = ?`

	upsertHeartbeatSQL = `INSERT INTO RunningHosts ([HostID], [TaskHub], [LastHeartbeat]) VALUES (?, ?, ?)
		ON CONFLICT ([HostID], [TaskHub]) DO UPDATE SET [LastHeartbeat] = excluded.[LastHeartbeat]`
	selectHeartbeatSQL = `SELECT [LastHeartbeat] FROM RunningHosts WHERE [HostID] = ? AND [TaskHub] = ?`
)
